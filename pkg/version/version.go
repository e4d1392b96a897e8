package version

// Version is the current version of the skill coaching engine
const Version = "0.4.0"

// UserAgent returns the User-Agent string for outbound HTTP requests
func UserAgent() string {
	return "skillcoach/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "skillcoach/" + Version
}
