package services

// ServiceContainer holds instances of all the application services.
// It is built once by the startup routine and handed to the route registration.
type ServiceContainer struct {
	Token TokenSvc
	Usage UsageRecorder
}
