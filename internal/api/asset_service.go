package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"curator/internal/asset"
)

// ErrAssetNotFound is returned when a reference matches no asset.
var ErrAssetNotFound = errors.New("asset not found")

// AssetReader is the read side of the curator used by API queries.
type AssetReader interface {
	Assets(states ...asset.State) []asset.Info
	Info(id uuid.UUID) (asset.Info, bool)
	InfoByPath(path string) (asset.Info, bool)
	IsUpdating(id uuid.UUID) bool
	FindAllUses(id uuid.UUID, transitive bool) []uuid.UUID
	Stats() asset.Stats
}

// AssetFilter narrows List results. Empty fields match everything.
type AssetFilter struct {
	States []asset.State
	Type   string
	Search string
}

// AssetService exposes read-only asset queries returning API DTOs.
type AssetService struct {
	reader AssetReader
}

// NewAssetService constructs an AssetService around the provided reader.
func NewAssetService(reader AssetReader) *AssetService {
	if reader == nil {
		return nil
	}
	return &AssetService{reader: reader}
}

// List returns matching assets ordered by relative path.
func (s *AssetService) List(filter AssetFilter) []AssetView {
	if s == nil {
		return nil
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	infos := s.reader.Assets(filter.States...)
	out := make([]AssetView, 0, len(infos))
	for _, info := range infos {
		if filter.Type != "" && (info.Declared == nil || !strings.EqualFold(info.Declared.Type, filter.Type)) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(info.RelativePath), search) {
			continue
		}
		out = append(out, FromInfo(info, s.reader.IsUpdating(info.ID), false))
	}
	slices.SortFunc(out, func(a, b AssetView) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Stats returns registry counts.
func (s *AssetService) Stats() Stats {
	if s == nil {
		return FromStats(asset.Stats{})
	}
	return FromStats(s.reader.Stats())
}

// Resolve finds an asset by id, absolute path, or path relative to a data dir.
func (s *AssetService) Resolve(ref string) (asset.Info, error) {
	if s == nil {
		return asset.Info{}, ErrAssetNotFound
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return asset.Info{}, fmt.Errorf("%w: empty reference", ErrAssetNotFound)
	}
	if id, err := uuid.Parse(ref); err == nil {
		if info, ok := s.reader.Info(id); ok {
			return info, nil
		}
		return asset.Info{}, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
	}
	if filepath.IsAbs(ref) {
		if info, ok := s.reader.InfoByPath(ref); ok {
			return info, nil
		}
		return asset.Info{}, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
	}
	rel := filepath.ToSlash(filepath.Clean(ref))
	for _, info := range s.reader.Assets() {
		if filepath.ToSlash(info.RelativePath) == rel {
			return info, nil
		}
	}
	return asset.Info{}, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
}

// Describe returns the full view of one asset, including its worker log.
func (s *AssetService) Describe(ref string) (AssetView, error) {
	info, err := s.Resolve(ref)
	if err != nil {
		return AssetView{}, err
	}
	return FromInfo(info, s.reader.IsUpdating(info.ID), true), nil
}

// Uses lists the assets whose dependencies or references point at ref.
func (s *AssetService) Uses(ref string, transitive bool) (UsesResponse, error) {
	info, err := s.Resolve(ref)
	if err != nil {
		return UsesResponse{}, err
	}
	resp := UsesResponse{
		Asset:      FromInfo(info, s.reader.IsUpdating(info.ID), false),
		Transitive: transitive,
		Users:      []AssetView{},
	}
	for _, id := range s.reader.FindAllUses(info.ID, transitive) {
		user, ok := s.reader.Info(id)
		if !ok {
			continue
		}
		resp.Users = append(resp.Users, FromInfo(user, s.reader.IsUpdating(id), false))
	}
	slices.SortFunc(resp.Users, func(a, b AssetView) int { return strings.Compare(a.Path, b.Path) })
	return resp, nil
}
