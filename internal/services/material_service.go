package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rede-afiliados/api/internal/repositories"
)

const materialIDPrefix = "mat_"

var (
	// ErrMaterialInvalidInput signals the caller provided invalid data.
	ErrMaterialInvalidInput = errors.New("material: invalid input")
	// ErrMaterialNotFound indicates the material could not be located.
	ErrMaterialNotFound = errors.New("material: not found")
)

// MaterialServiceDeps bundles collaborators for the material service.
type MaterialServiceDeps struct {
	Materials   repositories.MaterialRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type materialService struct {
	materials repositories.MaterialRepository
	clock     func() time.Time
	newID     func() string
}

// NewMaterialService constructs the material price list service.
func NewMaterialService(deps MaterialServiceDeps) (MaterialService, error) {
	if deps.Materials == nil {
		return nil, errors.New("material service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &materialService{
		materials: deps.Materials,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
	}, nil
}

func (s *materialService) List(ctx context.Context) ([]Material, error) {
	materials, err := s.materials.List(ctx)
	if err != nil {
		return nil, mapMaterialError(err)
	}
	sort.SliceStable(materials, func(i, j int) bool {
		return strings.ToLower(materials[i].Name) < strings.ToLower(materials[j].Name)
	})
	return materials, nil
}

func (s *materialService) Create(ctx context.Context, cmd UpsertMaterialCommand) (Material, error) {
	material, err := validateMaterial(cmd)
	if err != nil {
		return Material{}, err
	}
	now := s.clock()
	material.ID = materialIDPrefix + s.newID()
	material.CreatedAt = now
	material.UpdatedAt = now
	if err := s.materials.Insert(ctx, material); err != nil {
		return Material{}, mapMaterialError(err)
	}
	return material, nil
}

func (s *materialService) Update(ctx context.Context, cmd UpsertMaterialCommand) (Material, error) {
	id := strings.TrimSpace(cmd.ID)
	if id == "" {
		return Material{}, fmt.Errorf("%w: material id is required", ErrMaterialInvalidInput)
	}
	update, err := validateMaterial(cmd)
	if err != nil {
		return Material{}, err
	}
	current, err := s.materials.FindByID(ctx, id)
	if err != nil {
		return Material{}, mapMaterialError(err)
	}
	current.Name = update.Name
	current.PricePerM2 = update.PricePerM2
	current.UpdatedAt = s.clock()
	if err := s.materials.Update(ctx, current); err != nil {
		return Material{}, mapMaterialError(err)
	}
	return current, nil
}

func (s *materialService) Delete(ctx context.Context, materialID string) error {
	materialID = strings.TrimSpace(materialID)
	if materialID == "" {
		return fmt.Errorf("%w: material id is required", ErrMaterialInvalidInput)
	}
	return mapMaterialError(s.materials.Delete(ctx, materialID))
}

func validateMaterial(cmd UpsertMaterialCommand) (Material, error) {
	name := sanitizeText(cmd.Name, 120)
	if name == "" {
		return Material{}, fmt.Errorf("%w: name is required", ErrMaterialInvalidInput)
	}
	if cmd.PricePerM2 <= 0 {
		return Material{}, fmt.Errorf("%w: price per m2 must be positive", ErrMaterialInvalidInput)
	}
	return Material{Name: name, PricePerM2: cmd.PricePerM2}, nil
}

func mapMaterialError(err error) error {
	if err == nil {
		return nil
	}
	if repositories.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrMaterialNotFound, err)
	}
	return err
}
