package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/service"
	"github.com/tajnachat/tajna/internal/transport/http/middleware"
	"github.com/tajnachat/tajna/pkg/validator"
)

type GroupHandler struct {
	groupService    *service.GroupService
	rotationService *service.RotationService
}

func NewGroupHandler(groupService *service.GroupService, rotationService *service.RotationService) *GroupHandler {
	return &GroupHandler{groupService: groupService, rotationService: rotationService}
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.CreateGroupInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	errs := validator.ValidateGroup(input.Name)
	for _, entry := range input.WrappedKeys {
		validator.ValidateWrappedKey("wrapped_keys", entry.Key, errs)
	}
	if errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	g, err := h.groupService.Create(r.Context(), userID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWrappedKeySetMismatch):
			writeError(w, http.StatusBadRequest, "WRAPPED_KEY_SET_MISMATCH", "Wrapped keys must cover exactly the initial members, creator included")
		case errors.Is(err, service.ErrGroupFull):
			writeError(w, http.StatusBadRequest, "GROUP_FULL", "Too many initial members")
		default:
			log.Printf("ERROR create group: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, g)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	groups, err := h.groupService.ListMine(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR list groups: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	if groups == nil {
		groups = []domain.Group{}
	}

	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	g, members, err := h.groupService.Get(r.Context(), userID, groupID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a member of this group")
		default:
			log.Printf("ERROR get group: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group":   g,
		"members": members,
	})
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	if err := h.groupService.Delete(r.Context(), userID, groupID); err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotGroupOwner):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Only the group owner can delete it")
		default:
			log.Printf("ERROR delete group: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	member, err := h.groupService.Join(r.Context(), userID, groupID, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrAlreadyMember):
			writeError(w, http.StatusConflict, "ALREADY_MEMBER", "You are already a member")
		case errors.Is(err, service.ErrPasswordRequired):
			writeError(w, http.StatusUnauthorized, "PASSWORD_REQUIRED", "This group requires a password")
		case errors.Is(err, service.ErrWrongPassword):
			writeError(w, http.StatusUnauthorized, "WRONG_PASSWORD", "Incorrect group password")
		case errors.Is(err, service.ErrNotInvited):
			writeError(w, http.StatusForbidden, "NOT_INVITED", "No key has been provisioned for you in this group")
		case errors.Is(err, service.ErrGroupFull):
			writeError(w, http.StatusConflict, "GROUP_FULL", "Group has reached its member limit")
		default:
			log.Printf("ERROR join group: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, member)
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	var input service.RotationInput
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&input)
	}

	if err := h.rotationService.Leave(r.Context(), userID, groupID, input); err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a member of this group")
		case errors.Is(err, service.ErrOwnerLeave):
			writeError(w, http.StatusConflict, "OWNER_CANNOT_LEAVE", "Transfer or delete the group instead")
		case errors.Is(err, service.ErrIncompleteRotationSet):
			writeError(w, http.StatusBadRequest, "INCOMPLETE_ROTATION_SET", "Leaving this group requires a wrapped key for every remaining member")
		case errors.Is(err, service.ErrVersionConflict):
			writeError(w, http.StatusConflict, "VERSION_CONFLICT", "Group key version changed, refetch members and retry")
		default:
			log.Printf("ERROR leave group: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	var body struct {
		UserID     string `json:"user_id"`
		WrappedKey []byte `json:"wrapped_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	errs := validator.ValidationErrors{}
	validator.ValidateWrappedKey("wrapped_key", body.WrappedKey, errs)
	if errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	member, err := h.groupService.AddMember(r.Context(), requesterID, groupID, userID, body.WrappedKey)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotGroupAdmin):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Only the owner or an admin can add members")
		case errors.Is(err, service.ErrAlreadyMember):
			writeError(w, http.StatusConflict, "ALREADY_MEMBER", "User is already a member")
		case errors.Is(err, service.ErrGroupFull):
			writeError(w, http.StatusConflict, "GROUP_FULL", "Group has reached its member limit")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		case errors.Is(err, service.ErrMissingWrappedKey):
			writeError(w, http.StatusBadRequest, "MISSING_WRAPPED_KEY", "A wrapped session key for the new member is required")
		default:
			log.Printf("ERROR add member: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, member)
}

func (h *GroupHandler) GrantKey(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	userID, err := uuid.Parse(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	var body struct {
		WrappedKey []byte `json:"wrapped_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	errs := validator.ValidationErrors{}
	validator.ValidateWrappedKey("wrapped_key", body.WrappedKey, errs)
	if errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	if err := h.groupService.GrantKey(r.Context(), requesterID, groupID, userID, body.WrappedKey); err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotGroupAdmin):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Only the owner or an admin can grant keys")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User is not a member of this group")
		case errors.Is(err, service.ErrKeyAlreadyGranted):
			writeError(w, http.StatusConflict, "KEY_ALREADY_GRANTED", "Member already holds a wrapped key")
		default:
			log.Printf("ERROR grant key: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandler) Kick(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	targetID, err := uuid.Parse(r.PathValue("uid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	var input service.RotationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	errs := validator.ValidationErrors{}
	for _, entry := range input.WrappedKeys {
		validator.ValidateWrappedKey("wrapped_keys", entry.Key, errs)
	}
	if errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	g, err := h.rotationService.Kick(r.Context(), requesterID, groupID, targetID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotGroupOwner):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Only the group owner can kick members")
		case errors.Is(err, service.ErrSelfKick):
			writeError(w, http.StatusBadRequest, "SELF_KICK", "You cannot kick yourself, leave instead")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User is not a member of this group")
		case errors.Is(err, service.ErrIncompleteRotationSet):
			writeError(w, http.StatusBadRequest, "INCOMPLETE_ROTATION_SET", "Rotation requires a wrapped key for exactly the remaining members")
		case errors.Is(err, service.ErrVersionConflict):
			writeError(w, http.StatusConflict, "VERSION_CONFLICT", "Group key version changed, refetch members and retry")
		default:
			log.Printf("ERROR kick member: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, g)
}

func (h *GroupHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid group ID")
		return
	}

	_, members, err := h.groupService.Get(r.Context(), userID, groupID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGroupNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not a member of this group")
		default:
			log.Printf("ERROR list members: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	if members == nil {
		members = []domain.MemberKey{}
	}

	writeJSON(w, http.StatusOK, members)
}
