package service

import (
	"context"
	"log/slog"

	"github.com/vbonduro/rideshare/internal/domain"
)

// vehicleDirectory is the subset of backend.Client that VehicleService requires.
type vehicleDirectory interface {
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)
	DeleteVehicle(ctx context.Context, id string) error
}

// VehicleService exposes the driver's registered vehicles.
type VehicleService struct {
	backend vehicleDirectory
	logger  *slog.Logger
}

func NewVehicleService(backend vehicleDirectory, logger *slog.Logger) *VehicleService {
	return &VehicleService{backend: backend, logger: logger}
}

func (s *VehicleService) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	vehicles, err := s.backend.ListVehicles(ctx)
	if err != nil {
		s.logger.Error("failed to list vehicles", "error", err)
		return nil, err
	}
	if vehicles == nil {
		vehicles = []domain.Vehicle{}
	}
	return vehicles, nil
}

func (s *VehicleService) DeleteVehicle(ctx context.Context, id string) error {
	if err := s.backend.DeleteVehicle(ctx, id); err != nil {
		s.logger.Error("failed to delete vehicle", "vehicle_id", id, "error", err)
		return err
	}
	s.logger.Info("vehicle deleted", "vehicle_id", id)
	return nil
}
