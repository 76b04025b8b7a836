package imaging

import "fmt"

// ImageNotFoundError is returned when a locator cannot be resolved to a
// readable file under the storage root.
type ImageNotFoundError struct {
	Locator string
	Path    string
	Err     error
}

func (e *ImageNotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("image %q not found: %v", e.Locator, e.Err)
	}
	return fmt.Sprintf("image %q not found at %s: %v", e.Locator, e.Path, e.Err)
}

func (e *ImageNotFoundError) Unwrap() error { return e.Err }

// ImageDecodeError is returned when a file exists but is not a decodable image.
type ImageDecodeError struct {
	Locator string
	Err     error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("decode image %q: %v", e.Locator, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }
