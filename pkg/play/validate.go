package play

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var identRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func init() {
	_ = validate.RegisterValidation("ident", validateIdent)
	_ = validate.RegisterValidation("action", validateAction)
}

func validateIdent(fl validator.FieldLevel) bool {
	return identRe.MatchString(fl.Field().String())
}

func validateAction(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ActionShell, ActionScript, ActionDebug, ActionMeta:
		return true
	}
	return false
}

// Validate checks a play's structure: struct tags, unique host names and
// per-action requirements.
func Validate(p *Play) error {
	if p == nil {
		return fmt.Errorf("play cannot be nil")
	}
	if err := validate.Struct(p); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Hosts))
	for _, h := range p.Hosts {
		if seen[h.Name] {
			return fmt.Errorf("duplicate host %q", h.Name)
		}
		seen[h.Name] = true
	}

	for i := range p.Tasks {
		if err := validateTask(&p.Tasks[i]); err != nil {
			return fmt.Errorf("task %q: %w", p.Tasks[i].Name, err)
		}
	}
	return nil
}

func validateTask(t *Task) error {
	switch t.Action {
	case ActionShell, ActionScript:
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("command is required for action %q", t.Action)
		}
	case ActionMeta:
		switch t.MetaDirective() {
		case MetaNoop, MetaFlushHandlers, MetaEndPlay:
		default:
			return fmt.Errorf("unknown meta directive %q", t.MetaDirective())
		}
	}
	for _, name := range t.PostProcess {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("post_process entries cannot be empty")
		}
	}
	return nil
}
