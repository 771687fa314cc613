// Package common provides the types and constants shared by the slotpost
// daemon and its command-line client: environment variable names, defaults,
// JSON-RPC method names, and RPC payload types.
package common

// Environment variable names for configuration.
const (
	// ConfigPathEnv overrides the config file location.
	ConfigPathEnv = "SLOTPOST_CONFIG"

	// PostTimesEnv is a comma-separated list of default daily slots ("09:00,15:00").
	PostTimesEnv = "SLOTPOST_POST_TIMES"

	// TimezoneEnv is the IANA timezone every slot is evaluated in.
	TimezoneEnv = "SLOTPOST_TIMEZONE"

	// ContentPathEnv is the local directory holding one sub-folder per post.
	ContentPathEnv = "SLOTPOST_CONTENT_PATH"

	// DataPathEnv is the directory for state, history, ledger and session files.
	DataPathEnv = "SLOTPOST_DATA_PATH"

	// APIHostEnv is the admin listener host.
	APIHostEnv = "SLOTPOST_API_HOST"

	// APIPortEnv is the admin listener port.
	APIPortEnv = "SLOTPOST_API_PORT"

	// RPCSecretEnv is the Bearer token required by the admin JSON-RPC endpoint.
	RPCSecretEnv = "SLOTPOST_RPC_SECRET"

	// RemoteURLEnv selects the remote content store (sftp, ftp, ftps, s3, file).
	RemoteURLEnv = "SLOTPOST_REMOTE_URL"

	// RemoteKeyPathEnv is the SSH private key used by the sftp backend.
	RemoteKeyPathEnv = "SLOTPOST_REMOTE_KEY_PATH"

	// S3AccessKeyEnv, S3SecretKeyEnv and S3RegionEnv configure the s3 backend.
	S3AccessKeyEnv = "SLOTPOST_S3_ACCESS_KEY"
	S3SecretKeyEnv = "SLOTPOST_S3_SECRET_KEY"
	S3RegionEnv    = "SLOTPOST_S3_REGION"

	// PublishURLEnv is the base URL of the publishing relay. Empty selects
	// the dry-run publisher.
	PublishURLEnv = "SLOTPOST_PUBLISH_URL"

	// PublishUsernameEnv and PublishPasswordEnv are the relay login.
	PublishUsernameEnv = "SLOTPOST_PUBLISH_USERNAME"
	PublishPasswordEnv = "SLOTPOST_PUBLISH_PASSWORD"

	// SessionIDEnv seeds the relay session token.
	SessionIDEnv = "SLOTPOST_SESSION_ID"

	// KeepAliveURLEnv is the URL pinged by the liveness trigger.
	KeepAliveURLEnv = "SLOTPOST_KEEPALIVE_URL"

	// RenderExternalURLEnv is the hosting platform's public URL, used as the
	// liveness target when KeepAliveURLEnv is unset.
	RenderExternalURLEnv = "RENDER_EXTERNAL_URL"

	// CaptionHookEnv is the path of an optional JavaScript caption hook.
	CaptionHookEnv = "SLOTPOST_CAPTION_HOOK"

	// LogFileEnv enables appending daemon logs to <data>/slotpost.log.
	LogFileEnv = "SLOTPOST_LOG_FILE"

	// DebugEnv enables debug logging.
	DebugEnv = "SLOTPOST_DEBUG"
)
