package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/salvi1605/kinetech-scheduling/internal/slot"
)

// WindowInput is one weekly availability interval as received from clients.
type WindowInput struct {
	Weekday     int
	From        string
	To          string
	SlotMinutes int
	Capacity    int
}

type ExceptionInput struct {
	PractitionerID *uuid.UUID
	Date           string
	From           *string
	To             *string
	Type           string
	Reason         string
}

// SetAvailability replaces the practitioner's whole weekly schedule. An empty
// list leaves the practitioner unrestricted.
func (s *Service) SetAvailability(ctx context.Context, clinicID, practitionerID uuid.UUID, in []WindowInput) ([]slot.AvailabilityWindow, error) {
	clinic, p, err := s.loadScope(ctx, clinicID, practitionerID)
	if err != nil {
		return nil, err
	}

	windows := make([]slot.AvailabilityWindow, 0, len(in))
	for i, w := range in {
		win, err := parseWindow(clinic, p.ID, w)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		windows = append(windows, win)
	}

	if err := checkOverlaps(windows); err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceWindows(ctx, p.ID, windows); err != nil {
		return nil, fmt.Errorf("replace availability: %w", err)
	}

	s.log.Info().
		Str("practitioner_id", p.ID.String()).
		Int("windows", len(windows)).
		Msg("availability replaced")

	return windows, nil
}

func parseWindow(c *Clinic, practitionerID uuid.UUID, w WindowInput) (slot.AvailabilityWindow, error) {
	if w.Weekday < int(time.Sunday) || w.Weekday > int(time.Saturday) {
		return slot.AvailabilityWindow{}, fmt.Errorf("%w: weekday %d outside 0..6", ErrInvalidRequest, w.Weekday)
	}

	from, err := slot.ParseClock(w.From)
	if err != nil {
		return slot.AvailabilityWindow{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	to, err := slot.ParseClock(w.To)
	if err != nil {
		return slot.AvailabilityWindow{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if from >= to {
		return slot.AvailabilityWindow{}, fmt.Errorf("%w: window %s-%s is empty", ErrInvalidRequest, from, to)
	}

	if w.SlotMinutes < 0 {
		return slot.AvailabilityWindow{}, fmt.Errorf("%w: negative slot minutes", ErrInvalidRequest)
	}
	if w.Capacity < 0 || (c.SubSlotsPerBlock > 0 && w.Capacity > c.SubSlotsPerBlock) {
		return slot.AvailabilityWindow{}, fmt.Errorf("%w: capacity %d outside 0..%d", ErrInvalidRequest, w.Capacity, c.SubSlotsPerBlock)
	}

	return slot.AvailabilityWindow{
		PractitionerID: practitionerID,
		Weekday:        time.Weekday(w.Weekday),
		From:           from,
		To:             to,
		SlotMinutes:    w.SlotMinutes,
		Capacity:       w.Capacity,
	}, nil
}

func checkOverlaps(windows []slot.AvailabilityWindow) error {
	sorted := make([]slot.AvailabilityWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weekday != sorted[j].Weekday {
			return sorted[i].Weekday < sorted[j].Weekday
		}
		return sorted[i].From < sorted[j].From
	})

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Weekday == cur.Weekday && cur.From < prev.To {
			return fmt.Errorf("%w: windows %s-%s and %s-%s overlap on %s", ErrInvalidRequest,
				prev.From, prev.To, cur.From, cur.To, strings.ToLower(cur.Weekday.String()))
		}
	}
	return nil
}

// AddException records a closure of the whole clinic or a full-day block of
// one practitioner.
func (s *Service) AddException(ctx context.Context, clinicID uuid.UUID, in ExceptionInput) (*slot.ScheduleException, error) {
	clinic, err := s.loadClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	date, err := slot.ParseDate(in.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ex := &slot.ScheduleException{
		ClinicID: clinic.ID,
		Date:     date,
		Type:     slot.ExceptionType(strings.TrimSpace(in.Type)),
		Reason:   strings.TrimSpace(in.Reason),
	}

	switch ex.Type {
	case slot.ExceptionPractitionerBlock:
		if in.PractitionerID == nil {
			return nil, fmt.Errorf("%w: practitioner_block needs a practitioner", ErrInvalidRequest)
		}
		if _, err := s.loadPractitioner(ctx, clinic.ID, *in.PractitionerID); err != nil {
			return nil, err
		}
		id := *in.PractitionerID
		ex.PractitionerID = &id
	case slot.ExceptionClosed:
		if in.PractitionerID != nil {
			return nil, fmt.Errorf("%w: closed applies to the whole clinic", ErrInvalidRequest)
		}
		if (in.From == nil) != (in.To == nil) {
			return nil, fmt.Errorf("%w: from and to go together", ErrInvalidRequest)
		}
		if in.From != nil {
			from, err := slot.ParseClock(*in.From)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			to, err := slot.ParseClock(*in.To)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			if from >= to {
				return nil, fmt.Errorf("%w: closure %s-%s is empty", ErrInvalidRequest, from, to)
			}
			ex.From, ex.To = &from, &to
		}
	default:
		return nil, fmt.Errorf("%w: unknown exception type %q", ErrInvalidRequest, in.Type)
	}

	if err := s.repo.CreateException(ctx, ex); err != nil {
		return nil, fmt.Errorf("create exception: %w", err)
	}

	s.log.Info().
		Str("clinic_id", clinic.ID.String()).
		Str("type", string(ex.Type)).
		Str("date", in.Date).
		Msg("schedule exception added")

	return ex, nil
}

func (s *Service) RemoveException(ctx context.Context, clinicID, id uuid.UUID) error {
	if err := s.repo.DeleteException(ctx, clinicID, id); err != nil {
		if errors.Is(err, ErrExceptionNotFound) {
			return err
		}
		return fmt.Errorf("delete exception: %w", err)
	}
	return nil
}
