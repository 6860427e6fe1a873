package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// DefaultSessionTimeout is the ZooKeeper session timeout used when none
// is supplied.
const DefaultSessionTimeout = 10 * time.Second

// ZKClient watches `/<root>/<domain>/<service>/<instance-id>` znodes and
// maintains an eventually-consistent local cache (spec §4.2/§3). This is
// the implementation behind the `service_discovery.zk` configuration key
// (spec §6); github.com/go-zookeeper/zk is the ecosystem package this
// repo's retrieval pack confirms as the real client for it.
type ZKClient struct {
	conn *zk.Conn
	root string
	log  *zap.Logger

	mu       sync.RWMutex
	snap     Snapshot
	watching map[string]bool // "domain/service" already under watch

	selfMu sync.Mutex
	self   []registration // re-advertised after reconnect
}

type registration struct {
	domain, service string
	instance        Instance
	path            string
}

// NewZK connects to the ZooKeeper ensemble at endpoints. root is the
// znode prefix under which domain/service/instance trees live (e.g.
// "/im"); it is created recursively (persistent, empty data) if absent.
func NewZK(endpoints []string, root string, logger *zap.Logger) (*ZKClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, events, err := zk.Connect(endpoints, DefaultSessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("registry: zk connect: %w", err)
	}

	c := &ZKClient{
		conn:     conn,
		root:     strings.TrimSuffix(root, "/"),
		log:      logger,
		snap:     make(Snapshot),
		watching: make(map[string]bool),
	}

	if err := c.ensurePath(c.root); err != nil {
		conn.Close()
		return nil, err
	}

	go c.watchSession(events)
	return c, nil
}

// watchSession re-advertises every self-registration after the ZK
// session reconnects (spec §4.2: "must re-advertise after reconnect").
func (c *ZKClient) watchSession(events <-chan zk.Event) {
	for ev := range events {
		if ev.State == zk.StateHasSession {
			c.selfMu.Lock()
			regs := append([]registration(nil), c.self...)
			c.selfMu.Unlock()
			for _, r := range regs {
				if err := c.createEphemeral(r.path, []byte(r.instance.Payload)); err != nil {
					c.log.Warn("registry: re-register after reconnect failed",
						zap.String("path", r.path), zap.Error(err))
				}
			}
		}
	}
}

func (c *ZKClient) ensurePath(path string) error {
	if path == "" || path == "/" {
		return nil
	}
	exists, _, err := c.conn.Exists(path)
	if err != nil {
		return fmt.Errorf("registry: zk exists %s: %w", path, err)
	}
	if exists {
		return nil
	}
	if err := c.ensurePath(parentPath(path)); err != nil {
		return err
	}
	_, err = c.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("registry: zk create %s: %w", path, err)
	}
	return nil
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func (c *ZKClient) servicePath(domain, service string) string {
	return fmt.Sprintf("%s/%s/%s", c.root, domain, service)
}

// Query begins (or continues) watching domain/service. Idempotent.
func (c *ZKClient) Query(domain, service string) error {
	key := domain + "/" + service
	c.mu.Lock()
	if c.watching[key] {
		c.mu.Unlock()
		return nil
	}
	c.watching[key] = true
	c.mu.Unlock()

	path := c.servicePath(domain, service)
	if err := c.ensurePath(path); err != nil {
		return err
	}
	go c.watchChildren(domain, service, path)
	return nil
}

func (c *ZKClient) watchChildren(domain, service, path string) {
	for {
		children, _, events, err := c.conn.ChildrenW(path)
		if err != nil {
			c.log.Warn("registry: zk watch children failed", zap.String("path", path), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		c.refresh(domain, service, path, children)

		ev := <-events
		if ev.Err != nil {
			c.log.Warn("registry: zk watch event error", zap.Error(ev.Err))
			time.Sleep(time.Second)
		}
	}
}

func (c *ZKClient) refresh(domain, service, path string, children []string) {
	instances := make(map[string]Instance, len(children))
	for _, id := range children {
		data, _, err := c.conn.Get(path + "/" + id)
		if err != nil {
			continue
		}
		inst, err := ParsePayload(id, string(data))
		if err != nil {
			c.log.Warn("registry: skipping malformed instance", zap.String("id", id), zap.Error(err))
			continue
		}
		instances[id] = inst
	}

	c.mu.Lock()
	if c.snap[domain] == nil {
		c.snap[domain] = make(map[string]map[string]Instance)
	}
	c.snap[domain][service] = instances
	c.mu.Unlock()
}

// List returns the current local cache; never touches the network.
func (c *ZKClient) List() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Snapshot, len(c.snap))
	for d, svcs := range c.snap {
		out[d] = make(map[string]map[string]Instance, len(svcs))
		for s, insts := range svcs {
			copyInsts := make(map[string]Instance, len(insts))
			for k, v := range insts {
				copyInsts[k] = v
			}
			out[d][s] = copyInsts
		}
	}
	return out
}

// Pick returns the lexicographically smallest cached instance id,
// triggering an implicit Query if domain/service isn't watched yet.
func (c *ZKClient) Pick(domain, service string) (Instance, bool) {
	c.mu.RLock()
	inst, ok := pickFromSnapshot(c.snap, domain, service)
	_, watched := c.watching[domain+"/"+service]
	c.mu.RUnlock()

	if !watched {
		_ = c.Query(domain, service)
	}
	return inst, ok
}

// Register advertises self as an ephemeral znode under domain/service.
func (c *ZKClient) Register(domain, service string, self Instance) error {
	path := c.servicePath(domain, service)
	if err := c.ensurePath(path); err != nil {
		return err
	}
	nodePath := path + "/" + self.ID
	if err := c.createEphemeral(nodePath, []byte(self.Payload)); err != nil {
		return err
	}

	c.selfMu.Lock()
	c.self = append(c.self, registration{domain: domain, service: service, instance: self, path: nodePath})
	c.selfMu.Unlock()
	return nil
}

func (c *ZKClient) createEphemeral(path string, data []byte) error {
	_, err := c.conn.Create(path, data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		_, err = c.conn.Set(path, data, -1)
	}
	if err != nil {
		return fmt.Errorf("registry: zk register %s: %w", path, err)
	}
	return nil
}

// Close releases the ZooKeeper session. Ephemeral registrations vanish
// automatically when the session expires.
func (c *ZKClient) Close() error {
	c.conn.Close()
	return nil
}
