// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"sync"

	pnet "github.com/featurebasedb/fbimport/net"
)

// Cluster is the set of hosts a Client asks about topology. Hosts which
// fail are skipped until every host has failed, at which point all of them
// are tried again.
type Cluster struct {
	hosts       []pnet.URI
	okList      []bool
	mutex       sync.Mutex
	lastHostIdx int
}

func DefaultCluster() *Cluster {
	return &Cluster{
		hosts:  make([]pnet.URI, 0),
		okList: make([]bool, 0),
	}
}

func NewClusterWithHost(hosts ...pnet.URI) *Cluster {
	cluster := DefaultCluster()
	for _, host := range hosts {
		cluster.AddHost(host)
	}
	return cluster
}

func (c *Cluster) AddHost(address pnet.URI) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hosts = append(c.hosts, address)
	c.okList = append(c.okList, true)
}

// Host returns the next usable host in round robin order. It returns false
// only if the cluster has no hosts at all.
func (c *Cluster) Host() (pnet.URI, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.hosts) == 0 {
		return pnet.URI{}, false
	}
	for pass := 0; pass < 2; pass++ {
		for i := range c.okList {
			idx := (i + c.lastHostIdx) % len(c.okList)
			if c.okList[idx] {
				c.lastHostIdx = idx + 1
				return c.hosts[idx], true
			}
		}
		c.reset()
	}
	return pnet.URI{}, false
}

// RemoveHost marks address as failed.
func (c *Cluster) RemoveHost(address pnet.URI) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i, uri := range c.hosts {
		if uri == address {
			c.okList[i] = false
			break
		}
	}
}

// Hosts returns the hosts not marked as failed.
func (c *Cluster) Hosts() []pnet.URI {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	hosts := make([]pnet.URI, 0, len(c.hosts))
	for i, host := range c.hosts {
		if c.okList[i] {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// Len returns the number of hosts, including failed ones.
func (c *Cluster) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.hosts)
}

// reset must be called with the mutex held.
func (c *Cluster) reset() {
	for i := range c.okList {
		c.okList[i] = true
	}
}
