package backend

import "strings"

// NormalizeImage strips the @sha256:... digest suffix from an image
// reference. Runtimes append the resolved digest after pulling, which
// would otherwise break tag comparisons.
func NormalizeImage(image string) string {
	if idx := strings.Index(image, "@sha256:"); idx != -1 {
		return image[:idx]
	}
	return image
}

// ImageTag returns the tag portion of an image reference, or "" when the
// reference is untagged. Registry ports (host:5000/app) are not tags.
func ImageTag(image string) string {
	image = NormalizeImage(image)
	idx := strings.LastIndex(image, ":")
	if idx == -1 || strings.Contains(image[idx:], "/") {
		return ""
	}
	return image[idx+1:]
}

// WithTag rewrites an image reference to carry the given tag.
func WithTag(image, tag string) string {
	image = NormalizeImage(image)
	idx := strings.LastIndex(image, ":")
	if idx != -1 && !strings.Contains(image[idx:], "/") {
		image = image[:idx]
	}
	return image + ":" + tag
}
