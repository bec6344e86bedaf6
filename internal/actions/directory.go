package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/formflowhq/formflow/internal/domain"
)

// DirectoryHandler pushes submission data into an LDAP directory as
// modify-replace operations on an existing entry.
type DirectoryHandler struct {
	URL          string
	BindDN       string
	BindPassword string

	// dial is swapped in tests.
	dial func(url string) (ldapConn, error)
}

type ldapConn interface {
	Bind(username, password string) error
	Modify(m *ldap.ModifyRequest) error
	Close() error
}

func NewDirectoryHandler(url, bindDN, bindPassword string) *DirectoryHandler {
	return &DirectoryHandler{
		URL:          url,
		BindDN:       bindDN,
		BindPassword: bindPassword,
		dial: func(url string) (ldapConn, error) {
			return ldap.DialURL(url)
		},
	}
}

func (h *DirectoryHandler) Execute(ctx context.Context, inv *Invocation) (Result, error) {
	var cfg domain.DirectoryActionConfig
	if err := inv.Action.DecodeConfig(&cfg); err != nil {
		return Result{}, fmt.Errorf("invalid directory action config: %w", err)
	}
	if h.URL == "" {
		return Result{}, fmt.Errorf("directory server is not configured")
	}

	dn := expandTemplate(cfg.DNTemplate, inv)
	if strings.Contains(dn, "=,") || strings.HasSuffix(dn, "=") {
		return Result{}, fmt.Errorf("dn template %q expanded with empty components", cfg.DNTemplate)
	}

	conn, err := h.dial(h.URL)
	if err != nil {
		return Result{}, fmt.Errorf("dial directory: %w", err)
	}
	defer conn.Close()

	if h.BindDN != "" {
		if err := conn.Bind(h.BindDN, h.BindPassword); err != nil {
			return Result{}, fmt.Errorf("directory bind: %w", err)
		}
	}

	req := ldap.NewModifyRequest(dn, nil)
	applied := 0
	for attr, source := range cfg.AttributeMapping {
		value := lookupValue(source, inv)
		if value == "" {
			continue
		}
		req.Replace(attr, []string{value})
		applied++
	}
	if applied == 0 {
		return Result{Success: true, Message: "no attributes to update"}, nil
	}

	if err := conn.Modify(req); err != nil {
		return Result{}, fmt.Errorf("directory modify %s: %w", dn, err)
	}
	return Result{Success: true, Message: fmt.Sprintf("updated %d attribute(s) on %s", applied, dn)}, nil
}
