// Package coordinator implements the connection-facing half of the Censer
// fabric. This file implements fleet introspection and key routing.
package coordinator

import "hash/fnv"

// WorkerInfo is a point-in-time description of one admitted worker, safe to
// hand to observers and log sinks.
type WorkerInfo struct {
	ID        string `json:"id"`
	Remote    string `json:"remote"`
	MemoryKiB int64  `json:"memory_kib"`
	StorageKB int64  `json:"storage_kb"`
	CPUs      int    `json:"cpus"`
	Alive     bool   `json:"alive"`
}

// Info describes the handle's worker as currently known.
func (h *Handle) Info() WorkerInfo {
	return WorkerInfo{
		ID:        h.id,
		Remote:    h.codec.RemoteAddr().String(),
		MemoryKiB: h.MemoryKiB(),
		StorageKB: h.StorageKB(),
		CPUs:      h.CPUs(),
		Alive:     h.Alive(),
	}
}

// Describe returns a snapshot description of the whole fleet.
func (r *Registry) Describe() []WorkerInfo {
	handles := r.Handles()
	infos := make([]WorkerInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	return infos
}

// Route picks the worker that owns key, hashing the key over the current
// fleet. The mapping is stable while the fleet is stable; admissions and
// evictions redistribute ownership. Returns nil on an empty fleet.
func (r *Registry) Route(key string) *Handle {
	handles := r.Handles()
	if len(handles) == 0 {
		return nil
	}

	h := fnv.New32a()
	h.Write([]byte(key))
	return handles[int(h.Sum32())%len(handles)]
}

// Describe returns a snapshot description of the whole fleet.
func (s *Server) Describe() []WorkerInfo { return s.registry.Describe() }

// Route picks the worker that owns key. Returns nil on an empty fleet.
func (s *Server) Route(key string) *Handle { return s.registry.Route(key) }
