package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"bloodlink/internal/blob"
	"bloodlink/pkg/domain"
)

// ErrArchiveDisabled is returned by the archive readers when the service was
// built without an object store.
var ErrArchiveDisabled = errors.New("request archive disabled")

// ArchiveKey returns the object key a terminal request is archived under.
func ArchiveKey(req Request) string {
	return archiveKey(req.RequesterID, req.ID)
}

func archiveKey(facilityID, requestID string) string {
	return archivePrefix(facilityID) + requestID + ".json"
}

func archivePrefix(facilityID string) string {
	return fmt.Sprintf("requests/%s/", facilityID)
}

type archiver struct {
	store  blob.Store
	logger Logger
}

// write stores the request document once; failures are logged only.
func (a archiver) write(ctx context.Context, req Request) {
	if a.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	key := ArchiveKey(req)
	if _, err := a.store.Head(ctx, key); err == nil {
		a.logger.Warn("request already archived", "request_id", req.ID, "key", key)
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		a.logger.Error("archive encode failed", "request_id", req.ID, "error", err)
		return
	}
	_, err = a.store.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"status":     string(req.Status),
			"blood_type": string(req.BloodType),
		},
	})
	switch {
	case err == nil:
		a.logger.Info("request archived", "request_id", req.ID, "key", key)
	case errors.Is(err, blob.ErrExists):
		a.logger.Warn("request already archived", "request_id", req.ID, "key", key)
	default:
		a.logger.Error("archive write failed", "request_id", req.ID, "key", key, "error", err)
	}
}

func (a archiver) read(ctx context.Context, key string) (Request, error) {
	_, rc, err := a.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return Request{}, fmt.Errorf("archived request %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return Request{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return Request{}, fmt.Errorf("read %s: %w", key, err)
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return req, nil
}

// ArchivedRequest loads one archived request document. A request that was
// never archived reports domain.ErrNotFound.
func (s *Service) ArchivedRequest(ctx context.Context, facilityID, requestID string) (Request, error) {
	if s.archive.store == nil {
		return Request{}, ErrArchiveDisabled
	}
	return s.archive.read(ctx, archiveKey(facilityID, requestID))
}

// ArchivedRequests returns the facility's archived requests, newest posting
// first.
func (s *Service) ArchivedRequests(ctx context.Context, facilityID string) ([]Request, error) {
	if s.archive.store == nil {
		return nil, ErrArchiveDisabled
	}
	infos, err := s.archive.store.List(ctx, archivePrefix(facilityID))
	if err != nil {
		return nil, fmt.Errorf("list archive for %s: %w", facilityID, err)
	}
	out := make([]Request, 0, len(infos))
	for _, info := range infos {
		req, err := s.archive.read(ctx, info.Key)
		if errors.Is(err, domain.ErrNotFound) {
			// purged between List and Get
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.After(out[j].PostedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PurgeArchivedRequests deletes the facility's archive documents written
// before cutoff and returns how many were removed.
func (s *Service) PurgeArchivedRequests(ctx context.Context, facilityID string, cutoff time.Time) (int, error) {
	if s.archive.store == nil {
		return 0, ErrArchiveDisabled
	}
	var removed int
	err := s.instrument(ctx, "purge_archive", func(ctx context.Context) (string, error) {
		infos, err := s.archive.store.List(ctx, archivePrefix(facilityID))
		if err != nil {
			return facilityID, fmt.Errorf("list archive for %s: %w", facilityID, err)
		}
		for _, info := range infos {
			if !info.LastModified.Before(cutoff) {
				continue
			}
			ok, err := s.archive.store.Delete(ctx, info.Key)
			if err != nil {
				return facilityID, fmt.Errorf("delete %s: %w", info.Key, err)
			}
			if ok {
				removed++
			}
		}
		return facilityID, nil
	})
	return removed, err
}
