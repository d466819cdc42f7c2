// Package address encodes and decodes the two compact reference formats of
// the protocol: operator references ("<inboundTopicId>@<accountId>") and
// object locators ("hcs://1/<topicId>").
package address

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedAddress is returned when an operator reference cannot be decoded.
var ErrMalformedAddress = errors.New("malformed address")

// LocatorPrefix precedes the topic id in an object locator.
const LocatorPrefix = "hcs://1/"

var (
	topicIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	locatorPattern = regexp.MustCompile(`^hcs://1/(\d+\.\d+\.\d+)$`)
)

// OperatorRef names the account reachable via an inbound topic.
type OperatorRef struct {
	InboundTopicID string
	AccountID      string
}

// String formats the reference.
func (o OperatorRef) String() string {
	return FormatOperator(o.InboundTopicID, o.AccountID)
}

// FormatOperator returns "<inboundTopicID>@<accountID>".
func FormatOperator(inboundTopicID, accountID string) string {
	return inboundTopicID + "@" + accountID
}

// ParseOperator splits an operator reference at its last '@'.
func ParseOperator(s string) (OperatorRef, error) {
	i := strings.LastIndexByte(s, '@')
	if i < 0 {
		return OperatorRef{}, fmt.Errorf("%w: %q has no '@' separator", ErrMalformedAddress, s)
	}
	ref := OperatorRef{InboundTopicID: s[:i], AccountID: s[i+1:]}
	if ref.AccountID == "" {
		return OperatorRef{}, fmt.Errorf("%w: %q has an empty account segment", ErrMalformedAddress, s)
	}
	if ref.InboundTopicID == "" {
		return OperatorRef{}, fmt.Errorf("%w: %q has an empty inbound segment", ErrMalformedAddress, s)
	}
	return ref, nil
}

// FormatLocator returns the object locator for topicID.
func FormatLocator(topicID string) string {
	return LocatorPrefix + topicID
}

// ParseLocator returns the topic id of a well-formed locator.
func ParseLocator(s string) (string, bool) {
	m := locatorPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsLocator reports whether s is exactly an object locator.
func IsLocator(s string) bool {
	return locatorPattern.MatchString(s)
}

// ValidTopicID reports whether s has the shard.realm.num shape.
func ValidTopicID(s string) bool {
	return topicIDPattern.MatchString(s)
}
