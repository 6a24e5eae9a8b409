package models

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound          = status.Errorf(codes.NotFound, "not found")
	ErrAlreadyExists     = status.Errorf(codes.AlreadyExists, "already exists")
	ErrUnknownCollection = status.Errorf(codes.NotFound, "unknown collection")
	ErrNoBotPersona      = status.Errorf(codes.FailedPrecondition, "no bot persona available")
	ErrMissingID         = status.Errorf(codes.InvalidArgument, "document id is required")
	ErrNotStarted        = status.Errorf(codes.Unavailable, "replication not started")
)
