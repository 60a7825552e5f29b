// Package worker implements the worker-side half of the Censer fabric.
// This file implements the dispatch loop that interprets coordinator
// packets.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/censer/internal/protocol"
)

// Serve runs the worker's dispatch loop over conn until the coordinator says
// GOODBYE (returns nil) or the transport fails (returns the error). It
// processes one packet at a time, honoring the protocol contract:
//
//	HANDSHAKE  validate identity, reply with full host specs
//	INJECT     load the unit, boolean ack
//	EXECUTE    load ack, parameter, run ack, result
//	KEEPALIVE  echo back
//	GC         reclaim, no reply
//	UNLINK     drop the module group, boolean ack
//	GOODBYE    exit cleanly
//
// A well-framed packet with an unknown tag is tolerated and skipped, on the
// assumption the coordinator will eventually send something that makes
// sense; any other read failure is beyond recovery and ends the loop.
func Serve(ctx context.Context, conn net.Conn, exec Executor, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("coordinator", conn.RemoteAddr().String())
	codec := protocol.NewCodec(conn)
	lastBeat := time.Now()

	for {
		p, err := codec.ReadPacket()
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownPacket) {
				log.WithError(err).Warn("malformed packet skipped")
				continue
			}
			log.WithError(err).Error("transport failure, dispatch loop exiting")
			return err
		}

		switch p := p.(type) {
		case protocol.HandshakePacket:
			if err := handleHandshake(codec, p, log); err != nil {
				return err
			}

		case protocol.InjectPacket:
			err := exec.Load(ctx, p.Module, p.Unit.Name, p.Unit.Wasm)
			if err != nil {
				log.WithError(err).WithField("unit", p.Unit.Name).Warn("injection failed")
			}
			if err := codec.WriteBool(err == nil); err != nil {
				return err
			}

		case protocol.ExecutePacket:
			if err := handleExecute(ctx, codec, exec, p.Unit, log); err != nil {
				return err
			}

		case protocol.KeepalivePacket:
			log.WithField("gap", time.Since(lastBeat).String()).Debug("heartbeat")
			lastBeat = time.Now()
			if err := codec.WritePacket(protocol.KeepalivePacket{}); err != nil {
				return err
			}

		case protocol.GCPacket:
			// Fire-and-forget: reclaim and keep reading.
			exec.Reclaim(ctx)

		case protocol.UnlinkPacket:
			existed := exec.Unlink(ctx, p.Module)
			if err := codec.WriteBool(existed); err != nil {
				return err
			}

		case protocol.GoodbyePacket:
			log.Info("coordinator requested disconnection")
			return nil
		}
	}
}

// handleHandshake validates the coordinator's identity and replies with the
// worker's full specs. A runtime version mismatch refuses the connection
// outright; a runtime name mismatch is tolerated with a warning.
func handleHandshake(codec *protocol.Codec, p protocol.HandshakePacket, log *logrus.Entry) error {
	version := runtime.Version()
	if p.RuntimeVersion != version {
		log.WithFields(logrus.Fields{
			"local":  version,
			"remote": p.RuntimeVersion,
		}).Error("runtime version mismatch, refusing coordinator")
		return fmt.Errorf("runtime version mismatch: local %s, remote %s", version, p.RuntimeVersion)
	}
	if p.RuntimeName != runtime.Compiler {
		log.WithFields(logrus.Fields{
			"local":  runtime.Compiler,
			"remote": p.RuntimeName,
		}).Warn("runtime name mismatch")
	}

	memoryKiB, storageKB := hostStats()
	log.Info("handshake requested")
	return codec.WritePacket(protocol.HandshakePacket{
		RuntimeVersion: version,
		RuntimeName:    runtime.Compiler,
		MemoryKiB:      memoryKiB,
		StorageKB:      storageKB,
		CPUs:           runtime.NumCPU(),
	})
}

// handleExecute drives the worker side of the two-phase EXECUTE exchange:
// ack that the unit is loadable, read the parameter, run it, ack the
// outcome, and on success send the result. Application-level failures are
// reported back with their error text; only transport failures end the
// loop.
func handleExecute(ctx context.Context, codec *protocol.Codec, exec Executor, unit string, log *logrus.Entry) error {
	if err := exec.Lookup(unit); err != nil {
		log.WithError(err).WithField("unit", unit).Warn("execute refused")
		if werr := codec.WriteBool(false); werr != nil {
			return werr
		}
		return codec.WriteString(err.Error())
	}
	if err := codec.WriteBool(true); err != nil {
		return err
	}

	param, err := codec.ReadRaw()
	if err != nil {
		return err
	}

	log.WithField("unit", unit).Info("processing unit")
	start := time.Now()
	result, err := exec.Invoke(ctx, unit, param)
	if err != nil {
		log.WithError(err).WithField("unit", unit).Warn("execution failed")
		if werr := codec.WriteBool(false); werr != nil {
			return werr
		}
		return codec.WriteString(err.Error())
	}

	if err := codec.WriteBool(true); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"unit":    unit,
		"elapsed": time.Since(start).String(),
	}).Info("unit finished")
	return codec.WriteRaw(result)
}
