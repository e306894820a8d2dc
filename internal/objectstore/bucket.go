package objectstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// DefaultBucketPrefix is prepended to derived bucket names.
const DefaultBucketPrefix = "notesync-"

const maxBucketLen = 63

var (
	invalidBucketChars = regexp.MustCompile(`[^a-z0-9.-]+`)
	dashRuns           = regexp.MustCompile(`-+`)
	validBucketName    = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
)

// BucketName derives the bucket for a profile. An explicit override wins.
// Otherwise the name is prefix + slug(profile) + "-" + sha1(profile)[:8],
// with the slug shortened so the whole name fits S3's 63 character limit.
// The hash suffix keeps profiles whose slugs collide in separate buckets.
func BucketName(prefix, profile, override string) (string, error) {
	if o := strings.TrimSpace(override); o != "" {
		if !validBucketName.MatchString(o) {
			return "", fmt.Errorf("invalid bucket name %q", o)
		}
		return o, nil
	}

	if prefix == "" {
		prefix = DefaultBucketPrefix
	}
	prefix = strings.ToLower(prefix)

	profile = strings.TrimSpace(profile)
	slug := slugify(profile)

	suffix := ""
	if profile != "" {
		sum := sha1.Sum([]byte(profile))
		suffix = "-" + hex.EncodeToString(sum[:])[:8]
	}

	room := maxBucketLen - len(prefix) - len(suffix)
	if room < 1 {
		return "", fmt.Errorf("bucket prefix %q is too long", prefix)
	}
	if len(slug) > room {
		slug = strings.Trim(slug[:room], "-.")
		if slug == "" {
			slug = "p"
		}
	}

	name := prefix + slug + suffix
	if !validBucketName.MatchString(name) {
		return "", fmt.Errorf("derived bucket name %q is invalid", name)
	}
	return name, nil
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = invalidBucketChars.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "default"
	}
	return s
}
