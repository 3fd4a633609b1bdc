package odoo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
)

var (
	// ErrNotAuthenticated is returned when the service user cannot log in.
	ErrNotAuthenticated = errors.New("odoo: not authenticated")
	// ErrSessionExpired is returned when Odoo no longer accepts the session.
	ErrSessionExpired = errors.New("odoo: session expired")
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("odoo: record not found")
)

// RPCError is an error reported inside a JSON-RPC response: a validation
// failure, a missing access right or an exception on the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Debug   string `json:"debug"`
	} `json:"data"`
}

func (e *RPCError) Error() string {
	msg := strings.TrimSpace(e.Data.Message)
	if msg == "" {
		msg = strings.TrimSpace(e.Message)
	}
	if name := e.exception(); name != "" && msg != "" {
		return fmt.Sprintf("%s: %s", name, msg)
	}
	if msg == "" {
		return fmt.Sprintf("odoo error %d", e.Code)
	}
	return msg
}

// exception returns the short class name, "AccessError" for
// "odoo.exceptions.AccessError".
func (e *RPCError) exception() string {
	name := e.Data.Name
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func (e *RPCError) expired() bool {
	return e.Code == 100 ||
		strings.Contains(strings.ToLower(e.Data.Name), "sessionexpired") ||
		strings.Contains(strings.ToLower(e.Data.Message), "session expired")
}

// AccessDenied reports whether the server refused for lack of rights.
func (e *RPCError) AccessDenied() bool {
	return e.exception() == "AccessError"
}

var forbiddenLine = regexp.MustCompile(`^-\s*([A-Za-z0-9_]+)`)

// ForbiddenFields lists the fields an AccessError names, one per
// "- field (allowed for groups ...)" line.
func (e *RPCError) ForbiddenFields() []string {
	if !e.AccessDenied() {
		return nil
	}
	text := e.Data.Message
	if text == "" {
		text = e.Data.Debug
	}
	var fields []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := forbiddenLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			fields = append(fields, m[1])
		}
	}
	return fields
}

// HTTPError is a response that was not JSON-RPC at all, typically a proxy
// error page or an Odoo crash page.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, e.Message)
}

const maxPageMessage = 200

// pageMessage pulls a readable line out of an HTML error page: the first
// heading or paragraph, else the title, else the raw text.
func pageMessage(body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}
	doc, err := htmlquery.Parse(strings.NewReader(raw))
	if err == nil {
		for _, expr := range []string{"//h1", "//p", "//pre", "//title"} {
			if node := htmlquery.FindOne(doc, expr); node != nil {
				if text := collapse(htmlquery.InnerText(node)); text != "" {
					return truncate(text)
				}
			}
		}
	}
	return truncate(collapse(raw))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string) string {
	if r := []rune(s); len(r) > maxPageMessage {
		return string(r[:maxPageMessage]) + "..."
	}
	return s
}
