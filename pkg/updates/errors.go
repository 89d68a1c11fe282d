package updates

// UpdatesError is a typed error for update protocol failures.
type UpdatesError string

func (e UpdatesError) Error() string { return string(e) }

const (
	// ErrInvalidResponse is returned when a manifest response cannot be read.
	ErrInvalidResponse = UpdatesError("invalid update response")
	// ErrMissingBoundary is returned when a multipart response has no boundary parameter.
	ErrMissingBoundary = UpdatesError("missing boundary in multipart manifest content-type")
	// ErrManifestParse is returned when a manifest or directive body is not usable.
	ErrManifestParse = UpdatesError("failed to parse manifest")
	// ErrSignatureIncorrect is returned when a response part signature does not verify.
	ErrSignatureIncorrect = UpdatesError("download was successful, but signature was incorrect")
	// ErrProjectMismatch is returned when a signed part belongs to a different project than its certificate.
	ErrProjectMismatch = UpdatesError("invalid certificate for project ID or scope key")
	// ErrUnsupportedDirective is returned for directive types this client does not know.
	ErrUnsupportedDirective = UpdatesError("unsupported directive type")
	// ErrAssetHashMismatch is returned when a downloaded asset does not match its manifest hash.
	ErrAssetHashMismatch = UpdatesError("asset hash mismatch")
	// ErrNoUpdateAvailable is returned by a download when the server has nothing to download.
	ErrNoUpdateAvailable = UpdatesError("no update available")
)
