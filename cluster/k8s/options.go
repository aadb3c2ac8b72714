package k8s

import "log/slog"

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithLeasePrefix sets the prefix of the Lease object names.
// Default: "shepherd-".
func WithLeasePrefix(prefix string) Option {
	return func(p *Provider) { p.leasePrefix = prefix }
}

// WithComponent sets the value of the app.kubernetes.io/component label
// used to discover server Leases. Default: "shepherd-server".
func WithComponent(component string) Option {
	return func(p *Provider) { p.component = component }
}

// WithAnnotationPrefix sets the prefix for heartbeat annotations on Leases.
// Default: "shepherd.xraph.com/".
func WithAnnotationPrefix(prefix string) Option {
	return func(p *Provider) { p.annotationPrefix = prefix }
}
