package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func instance() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// Validate runs struct-tag validation over a resolved Config and, on
// failure, formats every violating field into one combined error.
func Validate(cfg *Config) error {
	if err := instance().Struct(cfg); err != nil {
		var valErrs validator.ValidationErrors
		if ok := asValidationErrors(err, &valErrs); ok {
			msgs := make([]string, 0, len(valErrs))
			for _, fe := range valErrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf(strings.Join(msgs, "; "))
		}
		return err
	}

	for id, server := range cfg.MCPServers {
		if server.Transport.Type == TransportTypeStdio && server.Transport.Command == "" {
			return fmt.Errorf("mcp_servers.%s: stdio transport requires command", id)
		}
		if server.Transport.Type != TransportTypeStdio && server.Transport.URL == "" {
			return fmt.Errorf("mcp_servers.%s: %s transport requires url", id, server.Transport.Type)
		}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}
