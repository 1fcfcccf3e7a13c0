package bam

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an opaque appliance resource identifier.
// The appliance serializes identifiers as JSON numbers; strings are accepted too.
type ID string

// UnmarshalJSON accepts both numeric and string identifiers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id %s: %w", string(data), err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as used in resource paths.
func (id ID) String() string {
	return string(id)
}

// Configuration is the appliance's top-level container for DNS objects.
type Configuration struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// PolicyZone is a response policy zone owned by the appliance.
type PolicyZone struct {
	ID         ID     `json:"id"`
	Name       string `json:"name"`
	PolicyType string `json:"policyType,omitempty"`
}

// PolicyItem is a single blocked domain attached to a PolicyZone.
type PolicyItem struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Server is a deployable DNS server managed by the appliance.
type Server struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// resource is implemented by every type read through listAll.
type resource interface {
	resourceID() ID
}

func (i PolicyItem) resourceID() ID { return i.ID }
func (s Server) resourceID() ID { return s.ID }

// Zone creation defaults.
const (
	// DefaultZoneName is the policy zone created when none exists.
	DefaultZoneName = "dnsfilter_canal"

	// PolicyTypeBlocklist is the policy type used for the zone.
	PolicyTypeBlocklist = "BLOCKLIST"

	// DefaultZoneTTL is the TTL applied to the created zone.
	DefaultZoneTTL = 3600
)

type createZoneRequest struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	PolicyType string `json:"policyType"`
	TTL        int    `json:"TTL"`
}

type createItemRequest struct {
	Name string `json:"name"`
}

type deploymentRequest struct {
	Type    string `json:"type"`
	Service string `json:"service"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Credentials string `json:"basicAuthenticationCredentials"`
}

// collection is the envelope of every list endpoint.
type collection[T any] struct {
	Count      int `json:"count"`
	TotalCount int `json:"totalCount"`
	Data       []T `json:"data"`
	Links      struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
}
