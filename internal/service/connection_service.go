package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/models"
	"github.com/smb-connect/connect-api/internal/repository"
)

var (
	// ErrSelfConnection indicates a member tried to connect to themselves.
	ErrSelfConnection = errors.New("cannot send a connection request to yourself")
	// ErrInvalidConnectionStatus indicates a response other than accept or decline.
	ErrInvalidConnectionStatus = errors.New("connection response must be accepted or declined")
)

// ConnectionService handles member-to-member connection requests and their
// realtime delivery to the addressee.
type ConnectionService interface {
	Create(ctx context.Context, fromMemberID string, payload dto.ConnectionRequestCreate) (dto.ConnectionRequestResponse, error)
	Respond(ctx context.Context, id uint, toMemberID, status string) (dto.ConnectionRequestResponse, error)
	List(ctx context.Context, memberID string, limit int) ([]dto.ConnectionRequestResponse, error)
}

type connectionService struct {
	connections   repository.ConnectionRepository
	members       repository.MemberRepository
	streams       StreamService
	notifications NotificationService
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewConnectionService creates the connection-request service.
func NewConnectionService(
	connections repository.ConnectionRepository,
	members repository.MemberRepository,
	streams StreamService,
	notifications NotificationService,
	validate *validator.Validate,
	logger zerolog.Logger,
) ConnectionService {
	return &connectionService{
		connections:   connections,
		members:       members,
		streams:       streams,
		notifications: notifications,
		validator:     validate,
		logger:        logger.With().Str("component", "connection_service").Logger(),
		tracer:        otel.Tracer("github.com/smb-connect/connect-api/internal/service/connection"),
	}
}

func (s *connectionService) Create(ctx context.Context, fromMemberID string, payload dto.ConnectionRequestCreate) (dto.ConnectionRequestResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ConnectionRequestResponse{}, err
	}

	if payload.ToMemberID == fromMemberID {
		return dto.ConnectionRequestResponse{}, ErrSelfConnection
	}

	if _, err := s.members.Get(ctx, payload.ToMemberID); err != nil {
		return dto.ConnectionRequestResponse{}, fmt.Errorf("target member: %w", err)
	}

	spanCtx, span := s.tracer.Start(ctx, "connections.create", trace.WithAttributes(
		attribute.String("connection.from", fromMemberID),
		attribute.String("connection.to", payload.ToMemberID),
	))
	defer span.End()

	request := models.ConnectionRequest{
		FromMemberID: fromMemberID,
		ToMemberID:   payload.ToMemberID,
		Status:       models.ConnectionStatusPending,
	}
	if err := s.connections.Create(spanCtx, &request); err != nil {
		span.RecordError(err)
		return dto.ConnectionRequestResponse{}, err
	}

	response := dto.NewConnectionRequestResponse(request)
	s.publish(spanCtx, dto.StreamActionInsert, response)
	s.notify(spanCtx, request)

	return response, nil
}

func (s *connectionService) Respond(ctx context.Context, id uint, toMemberID, status string) (dto.ConnectionRequestResponse, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != models.ConnectionStatusAccepted && status != models.ConnectionStatusDeclined {
		return dto.ConnectionRequestResponse{}, ErrInvalidConnectionStatus
	}

	request, err := s.connections.UpdateStatus(ctx, id, toMemberID, status)
	if err != nil {
		return dto.ConnectionRequestResponse{}, err
	}

	response := dto.NewConnectionRequestResponse(request)
	// The requester gets the verdict on their own filter.
	s.streams.Publish(ctx, dto.StreamEvent{
		Topic:      dto.StreamTopicConnections,
		Action:     dto.StreamActionUpdate,
		Filter:     request.FromMemberID,
		Connection: &response,
	})

	if status == models.ConnectionStatusAccepted && s.notifications != nil {
		_, err := s.notifications.Publish(ctx, dto.NotificationCreateRequest{
			MemberID: request.FromMemberID,
			Type:     "connection_accepted",
			Message:  fmt.Sprintf("%s accepted your connection request", request.ToMemberID),
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish connection acceptance notification")
		}
	}

	return response, nil
}

func (s *connectionService) List(ctx context.Context, memberID string, limit int) ([]dto.ConnectionRequestResponse, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, errors.New("member id is required")
	}

	requests, err := s.connections.ListForMember(ctx, memberID, limit)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ConnectionRequestResponse, 0, len(requests))
	for _, request := range requests {
		responses = append(responses, dto.NewConnectionRequestResponse(request))
	}
	return responses, nil
}

func (s *connectionService) publish(ctx context.Context, action string, response dto.ConnectionRequestResponse) {
	s.streams.Publish(ctx, dto.StreamEvent{
		Topic:      dto.StreamTopicConnections,
		Action:     action,
		Filter:     response.ToMemberID,
		Connection: &response,
	})
}

func (s *connectionService) notify(ctx context.Context, request models.ConnectionRequest) {
	if s.notifications == nil {
		return
	}

	message := fmt.Sprintf("%s wants to connect with you", request.FromMemberID)
	if member, err := s.members.Get(ctx, request.FromMemberID); err == nil {
		message = fmt.Sprintf("%s wants to connect with you", member.Name)
	}

	_, err := s.notifications.Publish(ctx, dto.NotificationCreateRequest{
		MemberID: request.ToMemberID,
		Type:     "connection_request",
		Message:  message,
	})
	if err != nil {
		s.logger.Warn().Err(err).Uint("request_id", request.ID).Msg("failed to publish connection notification")
	}
}
