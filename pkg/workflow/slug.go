package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxSlugSuffix is the highest numeric suffix probed before falling back
// to a timestamp.
const maxSlugSuffix = 20

// SlugExistsFunc reports whether a slug is already taken.
type SlugExistsFunc func(ctx context.Context, slug string) (bool, error)

// ResolveUniqueSlug returns base when it is free, otherwise the first free
// base-2 .. base-20, otherwise base-<unix nanoseconds>. A blank base is
// returned as is.
func ResolveUniqueSlug(
	ctx context.Context, exists SlugExistsFunc, base string,
) (string, error) {
	root := strings.TrimSpace(base)
	if root == "" {
		return root, nil
	}

	taken, err := exists(ctx, root)
	if err != nil {
		return "", fmt.Errorf("checking slug %q: %w", root, err)
	}

	if !taken {
		return root, nil
	}

	for i := 2; i <= maxSlugSuffix; i++ {
		candidate := fmt.Sprintf("%s-%d", root, i)

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("checking slug %q: %w", candidate, err)
		}

		if !taken {
			return candidate, nil
		}
	}

	return fmt.Sprintf("%s-%d", root, time.Now().UnixNano()), nil
}
