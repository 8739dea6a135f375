package wgconf

import (
	"fmt"
	"strings"
)

// Section names the part of a configuration a ParseError refers to.
type Section string

const (
	SectionConfig    Section = "Config"
	SectionInterface Section = "Interface"
	SectionPeer      Section = "Peer"
)

// Location is the attribute a ParseError refers to, or LocationTopLevel when
// the problem is the line itself.
type Location string

const (
	LocationTopLevel             Location = "TopLevel"
	LocationAddress              Location = "Address"
	LocationAllowedIPs           Location = "AllowedIPs"
	LocationDNS                  Location = "DNS"
	LocationEndpoint             Location = "Endpoint"
	LocationExcludedApplications Location = "ExcludedApplications"
	LocationIncludedApplications Location = "IncludedApplications"
	LocationListenPort           Location = "ListenPort"
	LocationMTU                  Location = "MTU"
	LocationPersistentKeepalive  Location = "PersistentKeepalive"
	LocationPostDown             Location = "PostDown"
	LocationPostUp               Location = "PostUp"
	LocationPreDown              Location = "PreDown"
	LocationPreUp                Location = "PreUp"
	LocationPresharedKey         Location = "PresharedKey"
	LocationPrivateKey           Location = "PrivateKey"
	LocationPublicKey            Location = "PublicKey"
)

// Reason is the closed set of configuration failures.
type Reason int

const (
	ReasonInvalidKey Reason = iota + 1
	ReasonInvalidNumber
	ReasonInvalidValue
	ReasonMissingAttribute
	ReasonMissingSection
	ReasonSyntaxError
	ReasonUnknownAttribute
	ReasonUnknownSection
)

var reasonNames = map[Reason]string{
	ReasonInvalidKey:       "invalid key",
	ReasonInvalidNumber:    "invalid number",
	ReasonInvalidValue:     "invalid value",
	ReasonMissingAttribute: "missing attribute",
	ReasonMissingSection:   "missing section",
	ReasonSyntaxError:      "syntax error",
	ReasonUnknownAttribute: "unknown attribute",
	ReasonUnknownSection:   "unknown section",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ParseError describes why a configuration could not be parsed or built.
// Text is the offending raw input; it is "(omitted)" for private keys.
type ParseError struct {
	Section  Section
	Location Location
	Reason   Reason
	Text     string
	Err      error
}

func newParseError(section Section, location Location, reason Reason, text string, cause error) *ParseError {
	return &ParseError{Section: section, Location: location, Reason: reason, Text: text, Err: cause}
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Section))
	if e.Location != LocationTopLevel && e.Location != "" {
		b.WriteByte('.')
		b.WriteString(string(e.Location))
	}
	b.WriteString(": ")
	b.WriteString(e.Reason.String())
	if e.Text != "" {
		fmt.Fprintf(&b, " %q", e.Text)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
