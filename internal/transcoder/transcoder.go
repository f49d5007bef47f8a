// Package transcoder implements the pluggable codec backend the File
// Processor variants run against. The backend's only job is to run one
// exec-level codec invocation; building the argument list stays with the
// caller, since each variant (HLS destination, image destination) needs
// a different set of flags.
package transcoder

import "context"

// Backend runs a single codec invocation: binPath is the executable
// (ffmpeg, or a compatible CLI), args are its flags. A backend never
// inspects args; it is purely a pluggable execution boundary so tests
// can substitute a fake without shelling out.
type Backend interface {
	Run(ctx context.Context, binPath string, args []string) error
}
