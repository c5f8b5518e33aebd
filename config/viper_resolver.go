// Package config supplies a core.ValueResolver backed by spf13/viper, so
// the Thread Supplier's six configuration keys can be layered across
// flags, environment variables and config files instead of a bare map.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/concurrency-kit/taskcore/core"
	"github.com/spf13/viper"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ViperResolver implements core.ValueResolver on top of a *viper.Viper
// instance, performing ${...} placeholder expansion against viper's own
// key space before returning a value — the Go analogue of
// IterableObjectHelper.resolveValue's placeholder substitution.
type ViperResolver struct {
	v *viper.Viper
}

// NewViperResolver wraps v. A nil v resolves every key to its default.
func NewViperResolver(v *viper.Viper) *ViperResolver {
	if v == nil {
		v = viper.New()
	}
	return &ViperResolver{v: v}
}

// ResolveValue implements core.ValueResolver.
func (r *ViperResolver) ResolveValue(key, defaultValue string) (string, error) {
	if !r.v.IsSet(key) {
		return r.expand(defaultValue, 0)
	}
	raw := r.v.GetString(key)
	if raw == "" {
		return r.expand(defaultValue, 0)
	}
	return r.expand(raw, 0)
}

// expand recursively substitutes ${other.key} placeholders, bounding
// recursion to guard against a cyclic placeholder chain.
func (r *ViperResolver) expand(raw string, depth int) (string, error) {
	if depth > 8 {
		return "", fmt.Errorf("taskcore/config: placeholder expansion too deep resolving %q", raw)
	}
	if !strings.Contains(raw, "${") {
		return raw, nil
	}
	var expandErr error
	expanded := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if !r.v.IsSet(key) {
			expandErr = fmt.Errorf("taskcore/config: unresolved placeholder %q", key)
			return match
		}
		val, err := r.expand(r.v.GetString(key), depth+1)
		if err != nil {
			expandErr = err
			return match
		}
		return val
	})
	if expandErr != nil {
		return "", expandErr
	}
	return expanded, nil
}

var _ core.ValueResolver = (*ViperResolver)(nil)
