// internal/pkg/lock/zookeeper.go
package lock

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
)

// zkConn 是 *zk.Conn 中锁用到的方法
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// ZookeeperLocker 基于临时顺序节点的公平锁：序号最小的节点持有锁，其余节点只监听前一个节点
type ZookeeperLocker struct {
	conn zkConn
	root string
}

// DialZookeeper 连接 ZooKeeper，返回的 close 函数在关停时调用
func DialZookeeper(servers []string, sessionTimeout time.Duration, root string) (*ZookeeperLocker, func(), error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect zookeeper")
	}
	return NewZookeeperLocker(conn, root), conn.Close, nil
}

func NewZookeeperLocker(conn zkConn, root string) *ZookeeperLocker {
	if root == "" {
		root = "/locks"
	}
	return &ZookeeperLocker{conn: conn, root: path.Clean("/" + root)}
}

// Lock 阻塞直到拿到锁或 ctx 结束
func (l *ZookeeperLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockPath := l.root + "/" + key
	if err := l.ensurePath(lockPath); err != nil {
		return nil, err
	}

	node, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, errors.Wrap(err, "create sequential node")
	}
	release := func() {
		if err := l.conn.Delete(node, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			logger.Ctx(ctx).Error().Err(err).Str("node", node).Msg("failed to delete lock node")
		}
	}
	myName := strings.TrimPrefix(node, lockPath+"/")

	for {
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			release()
			return nil, errors.Wrap(err, "get children nodes")
		}
		sortBySequence(children)

		idx := indexOf(children, myName)
		if idx < 0 {
			release()
			return nil, errors.Errorf("lock node %s disappeared", node)
		}
		if idx == 0 {
			return release, nil
		}

		// 只监听前一个节点，避免羊群效应
		exists, _, events, err := l.conn.ExistsW(lockPath + "/" + children[idx-1])
		if err != nil {
			release()
			return nil, errors.Wrap(err, "watch previous node")
		}
		if !exists {
			continue
		}

		select {
		case <-events:
		case <-ctx.Done():
			release()
			return nil, errors.Wrapf(ctx.Err(), "wait for lock %s", key)
		}
	}
}

func (l *ZookeeperLocker) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		cur += "/" + part
		exists, _, err := l.conn.Exists(cur)
		if err != nil {
			return errors.Wrapf(err, "check node %s", cur)
		}
		if exists {
			continue
		}
		if _, err := l.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return errors.Wrapf(err, "create node %s", cur)
		}
	}
	return nil
}

// sortBySequence 受保护节点带有随机前缀，只能按末尾 10 位序号排序
func sortBySequence(children []string) {
	sort.SliceStable(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
}

func sequenceOf(name string) int64 {
	if len(name) < 10 {
		return -1
	}
	seq, err := strconv.ParseInt(name[len(name)-10:], 10, 64)
	if err != nil {
		return -1
	}
	return seq
}

func indexOf(children []string, name string) int {
	for i, c := range children {
		if c == name {
			return i
		}
	}
	return -1
}
