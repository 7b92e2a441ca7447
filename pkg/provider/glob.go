package provider

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob pages through every object under the static prefix of pattern and
// returns the keys that match it. Patterns use doublestar syntax, e.g.
// "u1/*/project.yaml".
func Glob(ctx context.Context, p Provider, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, &ProviderError{Op: "Glob", Key: pattern, Err: doublestar.ErrBadPattern}
	}

	prefix := staticPrefix(pattern)
	var keys []string
	token := ""
	for {
		res, err := p.List(ctx, ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			ok, err := doublestar.Match(pattern, obj.Key)
			if err != nil {
				return nil, err
			}
			if ok {
				keys = append(keys, obj.Key)
			}
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			break
		}
		token = res.ContinuationToken
	}
	return keys, nil
}

// staticPrefix returns the portion of pattern before the first path
// segment containing a glob metacharacter.
func staticPrefix(pattern string) string {
	segments := strings.Split(pattern, "/")
	var static []string
	for _, seg := range segments {
		if strings.ContainsAny(seg, "*?[{\\") {
			break
		}
		static = append(static, seg)
	}
	if len(static) == len(segments) {
		return pattern
	}
	if len(static) == 0 {
		return ""
	}
	return strings.Join(static, "/") + "/"
}
