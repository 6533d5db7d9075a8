package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// handleHost writes a host row if its uniqueness tuple was not seen before,
// then records (or queues) the host to job instance mapping. The
// deduplication set is seeded from the store's existing content the first
// time a host event arrives, so restarts don't duplicate hosts. A single job
// may emit multiple redundant host events; mapping updates are deduplicated
// per (job, submission sequence).
func (l *Loader) handleHost(ctx context.Context, r Record) error {
	h := new(Host)
	l.mapRecord(ctx, r, h)

	if l.hostsWritten == nil {
		keys, err := l.store.HostKeys(ctx)
		if err != nil {
			return err
		}
		l.hostsWritten = make(map[HostKey]bool, len(keys))
		for _, k := range keys {
			l.hostsWritten[k] = true
		}
	}

	rootID, ok := l.rootWorkflowID(ctx, h.WfUUID)
	if !ok {
		return nil
	}
	h.WfID = rootID

	key := HostKey{WfID: h.WfID, Site: h.Site, Hostname: h.Hostname, IP: h.IP}
	if !l.hostsWritten[key] {
		if l.batch {
			l.stageInsert(h)
		} else {
			id, err := l.store.Insert(ctx, h)
			if err != nil {
				return err
			}
			h.ID = id
		}
		l.hostsWritten[key] = true
	}

	if l.batch {
		l.hostMaps = append(l.hostMaps, h)
		return nil
	}
	return l.mapHostToJobInstance(ctx, h)
}

// mapHostToJobInstance points a job instance at its host row, at most once
// per (job, submission sequence).
func (l *Loader) mapHostToJobInstance(ctx context.Context, h *Host) error {
	l.logger.Debug(ctx, "map host to job instance", MKV{
		"hostname":    h.Hostname,
		"exec_job_id": h.ExecJobID,
	})

	wfID, ok := l.workflowID(ctx, h.WfUUID)
	if !ok {
		return nil
	}
	jobID, ok := l.jobID(ctx, wfID, h.ExecJobID)
	if !ok {
		return nil
	}

	key := instanceKey{jobID: jobID, jobSubmitSeq: h.JobSubmitSeq}
	if l.hostsMapped[key] {
		return nil
	}

	if h.ID == 0 {
		id, err := l.store.HostID(ctx, HostKey{
			WfID:     h.WfID,
			Site:     h.Site,
			Hostname: h.Hostname,
			IP:       h.IP,
		})
		if err != nil {
			l.logger.Error(ctx, errors.Wrap(err, "resolving host_id", j.KV("hostname", h.Hostname)), nil)
			return nil
		}
		h.ID = id
	}

	err := l.store.SetJobInstanceHost(ctx, jobID, h.JobSubmitSeq, h.ID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) {
		l.logger.Error(ctx, errors.Wrap(err, "cannot map host to job instance", j.MKV{
			"hostname":    h.Hostname,
			"exec_job_id": h.ExecJobID,
		}), nil)
		return nil
	} else if err != nil {
		return err
	}

	l.hostsMapped[key] = true
	return nil
}
