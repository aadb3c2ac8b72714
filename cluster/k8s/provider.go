package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"github.com/xraph/shepherd"
	"github.com/xraph/shepherd/cluster"
	"github.com/xraph/shepherd/id"
)

// Compile-time check that Provider implements cluster.Store.
var _ cluster.Store = (*Provider)(nil)

const (
	defaultLeasePrefix      = "shepherd-"
	defaultComponent        = "shepherd-server"
	defaultAnnotationPrefix = "shepherd.xraph.com/"

	componentLabel = "app.kubernetes.io/component"
)

// Provider implements cluster.Store with one coordination/v1 Lease per
// server.
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leasePrefix      string
	component        string
	annotationPrefix string
	logger           *slog.Logger
}

// New creates a Kubernetes cluster provider.
// The clientset and namespace are required. Use functional options to
// customise the lease prefix, component label, annotation prefix, or logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leasePrefix:      defaultLeasePrefix,
		component:        defaultComponent,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Heartbeats
// ──────────────────────────────────────────────────

// AnnounceServer creates the server's Lease, replacing an existing one.
func (p *Provider) AnnounceServer(ctx context.Context, hb *cluster.ServerHeartbeat) error {
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:        p.leaseName(hb.ID),
			Namespace:   p.namespace,
			Labels:      map[string]string{componentLabel: p.component},
			Annotations: make(map[string]string),
		},
	}
	p.setHeartbeat(lease, hb)

	leases := p.client.CoordinationV1().Leases(p.namespace)
	_, err := leases.Create(ctx, lease, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !errors.IsAlreadyExists(err) {
		return wrap("announce server", err)
	}

	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing, getErr := leases.Get(ctx, lease.Name, metav1.GetOptions{})
		if getErr != nil {
			return getErr
		}
		if existing.Annotations == nil {
			existing.Annotations = make(map[string]string)
		}
		existing.Labels = lease.Labels
		p.setHeartbeat(existing, hb)
		_, updateErr := leases.Update(ctx, existing, metav1.UpdateOptions{})
		return updateErr
	})
	if err != nil {
		return wrap("announce server", err)
	}
	return nil
}

// SignalServerAlive renews the server's Lease and returns its running flag.
func (p *Provider) SignalServerAlive(ctx context.Context, hb *cluster.ServerHeartbeat) (bool, error) {
	leases := p.client.CoordinationV1().Leases(p.namespace)
	var running bool
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		lease, err := leases.Get(ctx, p.leaseName(hb.ID), metav1.GetOptions{})
		if err != nil {
			return err
		}
		renew := metav1.NewMicroTime(hb.LastHeartbeat.UTC())
		lease.Spec.RenewTime = &renew
		if lease.Annotations == nil {
			lease.Annotations = make(map[string]string)
		}
		b, _ := json.Marshal(hb.Metrics) //nolint:errcheck // marshal of plain numbers does not fail
		lease.Annotations[p.annotationPrefix+"metrics"] = string(b)

		if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
			return err
		}
		running = lease.Annotations[p.annotationPrefix+"running"] == "true"
		return nil
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, shepherd.ErrServerTimedOut
		}
		return false, wrap("signal server alive", err)
	}
	return running, nil
}

// SignalServerStopped deletes the server's Lease.
func (p *Provider) SignalServerStopped(ctx context.Context, serverID id.ServerID) error {
	err := p.client.CoordinationV1().Leases(p.namespace).Delete(ctx, p.leaseName(serverID), metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return wrap("signal server stopped", err)
	}
	return nil
}

// ListServers returns the heartbeats of all discovered Leases by seniority.
// Leases without a valid holder identity are skipped.
func (p *Provider) ListServers(ctx context.Context) ([]*cluster.ServerHeartbeat, error) {
	list, err := p.client.CoordinationV1().Leases(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: componentLabel + "=" + p.component,
	})
	if err != nil {
		return nil, wrap("list servers", err)
	}

	servers := make([]*cluster.ServerHeartbeat, 0, len(list.Items))
	for i := range list.Items {
		hb, convErr := p.heartbeatFromLease(&list.Items[i])
		if convErr != nil {
			p.logger.Debug("skipping lease", slog.String("lease", list.Items[i].Name), slog.String("error", convErr.Error()))
			continue
		}
		servers = append(servers, hb)
	}
	cluster.SortServers(servers)
	return servers, nil
}

// RemoveTimedOutServers deletes Leases last renewed before t. A Lease that
// is renewed between the list and the delete is kept.
func (p *Provider) RemoveTimedOutServers(ctx context.Context, before time.Time) (int, error) {
	list, err := p.client.CoordinationV1().Leases(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: componentLabel + "=" + p.component,
	})
	if err != nil {
		return 0, wrap("remove timed out servers", err)
	}

	removed := 0
	for i := range list.Items {
		lease := &list.Items[i]
		hb, convErr := p.heartbeatFromLease(lease)
		if convErr != nil || hb.IsAlive(before) {
			continue
		}
		var opts metav1.DeleteOptions
		if rv := lease.ResourceVersion; rv != "" {
			opts.Preconditions = &metav1.Preconditions{ResourceVersion: &rv}
		}
		err := p.client.CoordinationV1().Leases(p.namespace).Delete(ctx, lease.Name, opts)
		switch {
		case err == nil:
			removed++
		case errors.IsNotFound(err), errors.IsConflict(err):
		default:
			return removed, wrap("remove timed out servers", err)
		}
	}
	return removed, nil
}

// LongestRunningServerID returns the holder of the oldest Lease.
func (p *Provider) LongestRunningServerID(ctx context.Context) (id.ServerID, error) {
	servers, err := p.ListServers(ctx)
	if err != nil {
		return id.Nil, err
	}
	if len(servers) == 0 {
		return id.Nil, shepherd.ErrServerNotFound
	}
	return servers[0].ID, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// leaseName derives a DNS-1123 compatible object name from a server ID.
func (p *Provider) leaseName(serverID id.ServerID) string {
	return p.leasePrefix + strings.ReplaceAll(serverID.String(), "_", "-")
}

// setHeartbeat writes every heartbeat field onto the Lease.
func (p *Provider) setHeartbeat(lease *coordinationv1.Lease, hb *cluster.ServerHeartbeat) {
	holder := hb.ID.String()
	first := metav1.NewMicroTime(hb.FirstHeartbeat.UTC())
	last := metav1.NewMicroTime(hb.LastHeartbeat.UTC())
	lease.Spec.HolderIdentity = &holder
	lease.Spec.AcquireTime = &first
	lease.Spec.RenewTime = &last
	if hb.PollInterval > 0 {
		secs := int32(hb.PollInterval / time.Second)
		lease.Spec.LeaseDurationSeconds = &secs
	}

	a := lease.Annotations
	prefix := p.annotationPrefix
	a[prefix+"name"] = hb.Name
	a[prefix+"worker-pool-size"] = strconv.Itoa(hb.WorkerPoolSize)
	a[prefix+"poll-interval"] = hb.PollInterval.String()
	a[prefix+"running"] = strconv.FormatBool(hb.Running)

	b, _ := json.Marshal(hb.Metrics) //nolint:errcheck // marshal of plain numbers does not fail
	a[prefix+"metrics"] = string(b)
}

// heartbeatFromLease converts a Lease to a cluster.ServerHeartbeat.
func (p *Provider) heartbeatFromLease(lease *coordinationv1.Lease) (*cluster.ServerHeartbeat, error) {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return nil, fmt.Errorf("k8s: lease %q has no holder", lease.Name)
	}
	serverID, err := id.ParseServerID(*lease.Spec.HolderIdentity)
	if err != nil {
		return nil, fmt.Errorf("k8s: parse server id: %w", err)
	}

	prefix := p.annotationPrefix
	a := lease.Annotations

	poolSize, _ := strconv.Atoi(a[prefix+"worker-pool-size"])         //nolint:errcheck // best-effort parse
	pollInterval, _ := time.ParseDuration(a[prefix+"poll-interval"]) //nolint:errcheck // best-effort parse

	hb := &cluster.ServerHeartbeat{
		ID:             serverID,
		Name:           a[prefix+"name"],
		WorkerPoolSize: poolSize,
		PollInterval:   pollInterval,
		Running:        a[prefix+"running"] == "true",
	}
	if lease.Spec.AcquireTime != nil {
		hb.FirstHeartbeat = lease.Spec.AcquireTime.UTC()
	}
	if lease.Spec.RenewTime != nil {
		hb.LastHeartbeat = lease.Spec.RenewTime.UTC()
	}
	if m := a[prefix+"metrics"]; m != "" {
		if uErr := json.Unmarshal([]byte(m), &hb.Metrics); uErr != nil {
			p.logger.Debug("invalid metrics annotation", slog.String("lease", lease.Name))
		}
	}
	return hb, nil
}

// wrap marks API server overload and timeouts as unavailability.
func wrap(op string, err error) error {
	if errors.IsServerTimeout(err) || errors.IsTimeout(err) ||
		errors.IsTooManyRequests(err) || errors.IsServiceUnavailable(err) {
		err = shepherd.Unavailable(err)
	}
	return fmt.Errorf("k8s: %s: %w", op, err)
}
