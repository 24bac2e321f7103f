// Package errors provides structured error handling for the messaging core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Identity errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Transport errors
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// Conversation errors
	CodeConversationNotFound      Code = "CONVERSATION_NOT_FOUND"
	CodeConversationNotAGroup     Code = "CONVERSATION_NOT_A_GROUP"
	CodeConversationEmptyMembers  Code = "CONVERSATION_EMPTY_MEMBERS"
	CodeConversationSelfOnly      Code = "CONVERSATION_SELF_ONLY"
	CodeConversationDirectPeer    Code = "CONVERSATION_DIRECT_SINGLE_PEER"
	CodeConversationNotMember     Code = "CONVERSATION_NOT_MEMBER"
	CodeConversationDirectPairDup Code = "CONVERSATION_DIRECT_PAIR_DUPLICATE"

	// Participant errors
	CodeParticipantAlreadyMember  Code = "PARTICIPANT_ALREADY_MEMBER"
	CodeParticipantNotFound       Code = "PARTICIPANT_NOT_FOUND"
	CodeParticipantRemoveForbid   Code = "PARTICIPANT_REMOVE_FORBIDDEN"
	CodeParticipantTargetRequired Code = "PARTICIPANT_TARGET_REQUIRED"

	// Message errors
	CodeMessageNotFound      Code = "MESSAGE_NOT_FOUND"
	CodeMessageEmpty         Code = "MESSAGE_EMPTY"
	CodeMessageDeleteForbid  Code = "MESSAGE_DELETE_FORBIDDEN"
	CodeMessageInvalidCursor Code = "MESSAGE_INVALID_CURSOR"

	// Storage errors
	CodeInternal Code = "INTERNAL"
)

// GRPCCode maps domain codes to gRPC canonical status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidRequest,
		CodeConversationEmptyMembers,
		CodeConversationSelfOnly,
		CodeConversationDirectPeer,
		CodeConversationNotAGroup,
		CodeParticipantTargetRequired,
		CodeMessageEmpty,
		CodeMessageInvalidCursor:
		return codes.InvalidArgument

	// Unauthenticated - no resolvable principal
	case CodeUnauthenticated:
		return codes.Unauthenticated

	// PermissionDenied - authenticated but not entitled
	case CodeConversationNotMember,
		CodeParticipantRemoveForbid,
		CodeMessageDeleteForbid:
		return codes.PermissionDenied

	// NotFound - resource doesn't exist
	case CodeConversationNotFound,
		CodeParticipantNotFound,
		CodeMessageNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeParticipantAlreadyMember,
		CodeConversationDirectPairDup:
		return codes.AlreadyExists

	// FailedPrecondition is unused today: redundant membership changes map to
	// AlreadyExists and the de-dup race is recovered internally.

	default:
		return codes.Internal
	}
}
