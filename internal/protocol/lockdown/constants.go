package lockdown

// Port is the TCP port the lockdown service listens on.
const Port uint16 = 62078

// ServiceType is the Type reported by QueryType on a lockdown endpoint.
const ServiceType = "com.apple.mobile.lockdown"

// Lockdown request names
const (
	// RequestQueryType - Identify the endpoint
	RequestQueryType = "QueryType"

	// RequestStartSession - Authenticate with a pairing record
	RequestStartSession = "StartSession"

	// RequestStartService - Ask lockdown to spawn a service
	RequestStartService = "StartService"
)
