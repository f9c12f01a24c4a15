package directory

import "strings"

const remoteAddressFactor = "remote_address"

type validationFactor struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type validationFactors struct {
	ValidationFactors []validationFactor `json:"validationFactors"`
}

func remoteAddress(ip string) validationFactors {
	return validationFactors{ValidationFactors: []validationFactor{
		{Name: remoteAddressFactor, Value: strings.TrimSpace(ip)},
	}}
}

type authenticateRequest struct {
	Username          string            `json:"username"`
	Password          string            `json:"password"`
	ValidationFactors validationFactors `json:"validation-factors"`
}

type sessionUser struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  *sessionUser `json:"user"`
}

func (r sessionResponse) validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return malformedField("token")
	}
	if r.User == nil || strings.TrimSpace(r.User.Name) == "" {
		return malformedField("user.name")
	}
	return nil
}

type refreshResponse struct {
	Token string `json:"token"`
}

type attribute struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type attributeList struct {
	Attributes []attribute `json:"attributes"`
}

type userResponse struct {
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Email       string         `json:"email"`
	FirstName   string         `json:"first-name"`
	LastName    string         `json:"last-name"`
	DisplayName string         `json:"display-name"`
	Attributes  *attributeList `json:"attributes"`
}

func (r userResponse) validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return malformedField("key")
	}
	if strings.TrimSpace(r.Name) == "" {
		return malformedField("name")
	}
	return nil
}

// attributeMap keeps the first value of every attribute that has one.
func (r userResponse) attributeMap() map[string]string {
	out := map[string]string{}
	if r.Attributes == nil {
		return out
	}
	for _, attr := range r.Attributes.Attributes {
		name := strings.TrimSpace(attr.Name)
		if name == "" || len(attr.Values) == 0 {
			continue
		}
		if _, exists := out[name]; exists {
			continue
		}
		out[name] = attr.Values[0]
	}
	return out
}

type groupEntry struct {
	Name string `json:"name"`
}

type groupsResponse struct {
	Groups []groupEntry `json:"groups"`
}

func (r groupsResponse) names() []string {
	names := make([]string, 0, len(r.Groups))
	for _, group := range r.Groups {
		if name := strings.TrimSpace(group.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
