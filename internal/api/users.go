package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"gorm.io/gorm"
)

type UserFilter struct {
	Pagination
	Id        *int   `schema:"id"`
	Username  string `schema:"username"`
	FirstName string `schema:"first_name"`
	LastName  string `schema:"last_name"`
}

var userListing = listing{
	sortable: map[string]string{"id": "id", "username": "username", "first_name": "first_name", "last_name": "last_name"},
	search:   "username",
}

func (s *BackendService) ListUsers(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[UserFilter](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context())
	query = filterEq(query, "id", filter.Id)
	query = filterLike(query, "username", filter.Username)
	query = filterLike(query, "first_name", filter.FirstName)
	query = filterLike(query, "last_name", filter.LastName)

	return paginate(r, query, filter.Pagination, userListing, func(u database.User) (api.User, error) {
		return convertUser(u), nil
	})
}

func (s *BackendService) GetSelf(r *http.Request) (any, error) {
	user := currentUser(r)
	if user == nil {
		return nil, CodedErrorf(http.StatusUnauthorized, "authentication credentials were not provided")
	}
	return convertUser(*user), nil
}

func (s *BackendService) GetUser(r *http.Request) (any, error) {
	userId, err := URLParamInt(r, "user_id")
	if err != nil {
		return nil, err
	}
	user, err := loadById[database.User](s.db.WithContext(r.Context()), "user", userId)
	if err != nil {
		return nil, err
	}
	return convertUser(user), nil
}

var (
	userWritableFields   = []string{"id", "url", "username", "first_name", "last_name"}
	userPrivilegedFields = []string{"is_staff", "is_superuser", "groups"}
)

func formatKeySet(keys []string) string {
	quoted := make([]string, 0, len(keys))
	for _, k := range keys {
		quoted = append(quoted, "'"+k+"'")
	}
	return "{" + strings.Join(quoted, ", ") + "}"
}

func validateUserFields(body map[string]json.RawMessage) error {
	var unknown []string
	privileged := false
	for key := range body {
		if slices.Contains(userWritableFields, key) {
			continue
		}
		unknown = append(unknown, key)
		if slices.Contains(userPrivilegedFields, key) {
			privileged = true
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	if privileged {
		return CodedErrorf(http.StatusBadRequest, "You do not have permissions to access some of these fields: %s", formatKeySet(unknown))
	}
	return CodedErrorf(http.StatusBadRequest, "Got unknown fields: %s", formatKeySet(unknown))
}

func (s *BackendService) PatchUser(r *http.Request) (any, error) {
	userId, err := URLParamInt(r, "user_id")
	if err != nil {
		return nil, err
	}

	body, err := ParseRequest[map[string]json.RawMessage](r)
	if err != nil {
		return nil, err
	}
	if err := validateUserFields(body); err != nil {
		return nil, err
	}

	var req struct {
		Username  *string `json:"username"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
	}
	raw, _ := json.Marshal(body)
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
	}

	var old, updated database.User
	err = s.transaction(r, func(txn *gorm.DB) error {
		user, err := loadById[database.User](txn, "user", userId)
		if err != nil {
			return err
		}
		old = user

		if req.Username != nil {
			if *req.Username == "" {
				return CodedErrorf(http.StatusBadRequest, "username may not be blank")
			}
			var count int64
			if err := txn.Model(&database.User{}).Where("username = ? AND id <> ?", *req.Username, userId).Count(&count).Error; err != nil {
				return fmt.Errorf("error checking username: %w", err)
			}
			if count > 0 {
				return CodedErrorf(http.StatusBadRequest, "A user with that username already exists.")
			}
			user.Username = *req.Username
		}
		if req.FirstName != nil {
			user.FirstName = *req.FirstName
		}
		if req.LastName != nil {
			user.LastName = *req.LastName
		}

		if err := txn.Save(&user).Error; err != nil {
			return fmt.Errorf("error updating user %d: %w", userId, err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(r, events.ResourceUser, convertUser(old), convertUser(updated), s.eventContext(r).WithUser(&updated))
	return convertUser(updated), nil
}

// detachUser clears every reference to a user so that the row can be removed.
func detachUser(txn *gorm.DB, userId int) error {
	refs := []struct {
		model  any
		column string
	}{
		{&database.Organization{}, "owner_id"},
		{&database.Project{}, "owner_id"},
		{&database.Project{}, "assignee_id"},
		{&database.Task{}, "owner_id"},
		{&database.Task{}, "assignee_id"},
		{&database.Job{}, "assignee_id"},
		{&database.Issue{}, "owner_id"},
		{&database.Issue{}, "assignee_id"},
		{&database.Comment{}, "owner_id"},
		{&database.CloudStorage{}, "owner_id"},
		{&database.Invitation{}, "owner_id"},
	}
	for _, ref := range refs {
		if err := txn.Model(ref.model).Where(ref.column+" = ?", userId).Update(ref.column, nil).Error; err != nil {
			return fmt.Errorf("error detaching user %d: %w", userId, err)
		}
	}

	memberships := txn.Model(&database.Membership{}).Select("id").Where("user_id = ?", userId)
	if err := txn.Where("membership_id IN (?)", memberships).Delete(&database.Invitation{}).Error; err != nil {
		return fmt.Errorf("error deleting invitations of user %d: %w", userId, err)
	}
	if err := txn.Where("user_id = ?", userId).Delete(&database.Membership{}).Error; err != nil {
		return fmt.Errorf("error deleting memberships of user %d: %w", userId, err)
	}
	return nil
}

func (s *BackendService) DeleteUser(r *http.Request) (any, error) {
	userId, err := URLParamInt(r, "user_id")
	if err != nil {
		return nil, err
	}

	var user database.User
	err = s.transaction(r, func(txn *gorm.DB) error {
		if user, err = loadById[database.User](txn, "user", userId); err != nil {
			return err
		}
		if err := detachUser(txn, userId); err != nil {
			return err
		}
		if err := txn.Delete(&database.User{}, userId).Error; err != nil {
			return fmt.Errorf("error deleting user %d: %w", userId, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceUser, user.Id, &user.Username, s.eventContext(r).WithUser(&user))
	return nil, nil
}
