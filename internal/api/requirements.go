package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/mail"
	"net/url"
	"strings"
)

// passwordField is sealed before storage and never echoed back.
const passwordField = "password"

var errInvalidRequirement = errors.New("invalid requirement data")

type tradeLink struct {
	TradeLink string `json:"tradelink"`
}

func (t tradeLink) validate() bool {
	u, err := url.Parse(t.TradeLink)
	if err != nil || u.Scheme != "https" {
		return false
	}
	return u.Host == "steamcommunity.com" && strings.HasPrefix(u.Path, "/tradeoffer/new")
}

type steamAccount struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	BackupCode string `json:"backup_code"`
}

func (s steamAccount) validate() bool {
	return s.Username != "" && s.Password != "" && s.BackupCode != ""
}

type emailPass struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (e emailPass) validate() bool {
	addr, err := mail.ParseAddress(e.Email)
	return err == nil && addr.Address == e.Email && e.Password != ""
}

type validator interface {
	validate() bool
}

// requirementForms lists the requirement payload shapes the store accepts.
var requirementForms = map[string]func() validator{
	"steam-tradelink":        func() validator { return &tradeLink{} },
	"steam-user-pass-backup": func() validator { return &steamAccount{} },
	"epic-email-pass":        func() validator { return &emailPass{} },
	"ubisoft-email-pass":     func() validator { return &emailPass{} },
}

// decodeRequirement validates body against the form registered for name and
// returns its canonical JSON.
func decodeRequirement(name string, body []byte) (map[string]any, error) {
	newForm, ok := requirementForms[name]
	if !ok {
		return nil, errInvalidRequirement
	}

	form := newForm()
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(form); err != nil || !form.validate() {
		return nil, errInvalidRequirement
	}

	b, err := json.Marshal(form)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// stripPassword removes the sealed password from a stored requirement.
func stripPassword(data json.RawMessage) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	if _, ok := fields[passwordField]; !ok {
		return data
	}
	delete(fields, passwordField)

	b, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return b
}
