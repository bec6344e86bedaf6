package actions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/formflowhq/formflow/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// expandTemplate substitutes {name} placeholders from the submission's field
// data. The submitter's identity is reachable through the reserved
// submitter.* names. Unknown placeholders expand to the empty string.
func expandTemplate(tmpl string, inv *Invocation) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.Trim(m, "{}")
		return lookupValue(name, inv)
	})
}

func lookupValue(name string, inv *Invocation) string {
	if strings.HasPrefix(name, "submitter.") {
		return submitterAttribute(strings.TrimPrefix(name, "submitter."), inv.Submitter)
	}
	if v, ok := inv.Fields[name]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	switch name {
	case "submission.reference":
		return inv.Submission.Reference
	case "submission.id":
		return fmt.Sprintf("%d", inv.Submission.ID)
	case "submission.status":
		return inv.Submission.Status
	}
	return ""
}

func submitterAttribute(attr string, u *domain.User) string {
	if u == nil {
		return ""
	}
	switch attr {
	case "username":
		return u.Username
	case "email":
		if u.Email.Valid {
			return u.Email.String
		}
	case "employee_id":
		if u.EmployeeID.Valid {
			return u.EmployeeID.String
		}
	case "id":
		return fmt.Sprintf("%d", u.ID)
	}
	return ""
}
