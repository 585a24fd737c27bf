package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

type OrganizationFilter struct {
	Pagination
	Id    *int   `schema:"id"`
	Name  string `schema:"name"`
	Owner string `schema:"owner"`
	Slug  string `schema:"slug"`
}

var organizationListing = listing{
	sortable: map[string]string{"id": "id", "name": "name", "slug": "slug", "created_date": "created_date"},
	search:   "name",
}

func (s *BackendService) ListOrganizations(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[OrganizationFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn.Preload("Owner")
	query = filterEq(query, "id", filter.Id)
	query = filterLike(query, "name", filter.Name)
	query = filterLike(query, "slug", filter.Slug)
	query = filterUser(query, "owner_id", filter.Owner)

	return paginate(r, query, filter.Pagination, organizationListing, convertOrganization)
}

func (s *BackendService) loadOrganization(r *http.Request) (database.Organization, error) {
	orgId, err := URLParamInt(r, "org_id")
	if err != nil {
		return database.Organization{}, err
	}
	return loadById[database.Organization](s.db.WithContext(r.Context()), "organization", orgId, "Owner")
}

func (s *BackendService) GetOrganization(r *http.Request) (any, error) {
	org, err := s.loadOrganization(r)
	if err != nil {
		return nil, err
	}
	return convertOrganization(org)
}

func validateOrganizationName(name string) error {
	if len(name) > 64 {
		return CodedErrorf(http.StatusBadRequest, "name: ensure this field has no more than 64 characters")
	}
	return nil
}

func (s *BackendService) CreateOrganization(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateOrganizationRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Slug == "" || len(req.Slug) > 16 || !slugPattern.MatchString(req.Slug) {
		return nil, CodedErrorf(http.StatusBadRequest, "slug: must be 1 to 16 characters of letters, digits, '-' or '_'")
	}
	if req.Name == "" {
		req.Name = req.Slug
	}
	if err := validateOrganizationName(req.Name); err != nil {
		return nil, err
	}
	contact, err := toJSON(req.Contact)
	if err != nil {
		return nil, err
	}
	if req.Contact == nil {
		contact = []byte("{}")
	}

	user := currentUser(r)
	now := time.Now().UTC()
	org := database.Organization{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Contact:     contact,
		CreatedDate: now,
		UpdatedDate: now,
		OwnerId:     currentUserId(r),
	}

	err = s.transaction(r, func(txn *gorm.DB) error {
		var count int64
		if err := txn.Model(&database.Organization{}).Where("slug = ?", req.Slug).Count(&count).Error; err != nil {
			return fmt.Errorf("error checking organization slug: %w", err)
		}
		if count > 0 {
			return CodedErrorf(http.StatusBadRequest, "organization with this slug already exists.")
		}

		if err := txn.Create(&org).Error; err != nil {
			return fmt.Errorf("error creating organization: %w", err)
		}

		if user != nil {
			membership := database.Membership{
				UserId:         user.Id,
				OrganizationId: org.Id,
				IsActive:       true,
				JoinedDate:     sql.NullTime{Time: now, Valid: true},
				Role:           database.RoleOwner,
			}
			if err := txn.Create(&membership).Error; err != nil {
				return fmt.Errorf("error creating owner membership: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	org.Owner = user
	result, err := convertOrganization(org)
	if err != nil {
		return nil, err
	}
	s.emitCreated(r, events.ResourceOrganization, org.Id, &org.Name, result, s.objectContext(r, &org.Id, nil, nil, nil))
	return result, nil
}

func (s *BackendService) PatchOrganization(r *http.Request) (any, error) {
	org, err := s.loadOrganization(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PatchOrganizationRequest](r)
	if err != nil {
		return nil, err
	}

	old, err := convertOrganization(org)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if err := validateOrganizationName(*req.Name); err != nil {
			return nil, err
		}
		org.Name = *req.Name
	}
	if req.Description != nil {
		org.Description = *req.Description
	}
	if req.Contact != nil {
		if org.Contact, err = toJSON(req.Contact); err != nil {
			return nil, err
		}
	}
	org.UpdatedDate = time.Now().UTC()

	if err := s.db.WithContext(r.Context()).Omit(clause.Associations).Save(&org).Error; err != nil {
		return nil, fmt.Errorf("error updating organization %d: %w", org.Id, err)
	}

	result, err := convertOrganization(org)
	if err != nil {
		return nil, err
	}
	s.emitUpdated(r, events.ResourceOrganization, old, result, s.objectContext(r, &org.Id, nil, nil, nil))
	return result, nil
}

func (s *BackendService) DeleteOrganization(r *http.Request) (any, error) {
	org, err := s.loadOrganization(r)
	if err != nil {
		return nil, err
	}

	ctx := s.objectContext(r, &org.Id, nil, nil, nil)
	err = s.transaction(r, func(txn *gorm.DB) error {
		memberships := txn.Model(&database.Membership{}).Select("id").Where("organization_id = ?", org.Id)
		if err := txn.Where("membership_id IN (?)", memberships).Delete(&database.Invitation{}).Error; err != nil {
			return fmt.Errorf("error deleting invitations: %w", err)
		}
		if err := txn.Where("organization_id = ?", org.Id).Delete(&database.Membership{}).Error; err != nil {
			return fmt.Errorf("error deleting memberships: %w", err)
		}
		for _, model := range []any{&database.Project{}, &database.Task{}, &database.CloudStorage{}} {
			if err := txn.Model(model).Where("organization_id = ?", org.Id).Update("organization_id", nil).Error; err != nil {
				return fmt.Errorf("error detaching organization resources: %w", err)
			}
		}
		if err := txn.Delete(&database.Organization{}, org.Id).Error; err != nil {
			return fmt.Errorf("error deleting organization %d: %w", org.Id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceOrganization, org.Id, &org.Name, ctx)
	return nil, nil
}

type MembershipFilter struct {
	Pagination
	User         string `schema:"user"`
	Role         string `schema:"role"`
	Organization *int   `schema:"organization"`
	IsActive     *bool  `schema:"is_active"`
}

var membershipListing = listing{
	sortable: map[string]string{"id": "id", "role": "role", "joined_date": "joined_date"},
}

var memberRoles = []string{database.RoleWorker, database.RoleSupervisor, database.RoleMaintainer, database.RoleOwner}

func (s *BackendService) invitationKey(txn *gorm.DB, membershipId int) (*string, error) {
	var keys []string
	if err := txn.Model(&database.Invitation{}).Where("membership_id = ?", membershipId).Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("error loading invitation of membership %d: %w", membershipId, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return &keys[0], nil
}

func (s *BackendService) ListMemberships(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[MembershipFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn.Preload("User")
	query = filterEq(query, "organization_id", filter.Organization)
	query = filterEq(query, "organization_id", currentOrgId(r))
	query = filterEq(query, "is_active", filter.IsActive)
	query = filterUser(query, "user_id", filter.User)
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}

	return paginate(r, query, filter.Pagination, membershipListing, func(m database.Membership) (api.Membership, error) {
		key, err := s.invitationKey(txn, m.Id)
		if err != nil {
			return api.Membership{}, err
		}
		return convertMembership(m, key), nil
	})
}

func (s *BackendService) loadMembership(r *http.Request, txn *gorm.DB) (database.Membership, error) {
	membershipId, err := URLParamInt(r, "membership_id")
	if err != nil {
		return database.Membership{}, err
	}
	return loadById[database.Membership](txn, "membership", membershipId, "User")
}

func (s *BackendService) GetMembership(r *http.Request) (any, error) {
	txn := s.db.WithContext(r.Context())
	membership, err := s.loadMembership(r, txn)
	if err != nil {
		return nil, err
	}
	key, err := s.invitationKey(txn, membership.Id)
	if err != nil {
		return nil, err
	}
	return convertMembership(membership, key), nil
}

func (s *BackendService) PatchMembership(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PatchMembershipRequest](r)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(memberRoles, req.Role) {
		return nil, CodedErrorf(http.StatusBadRequest, "role: \"%s\" is not a valid choice.", req.Role)
	}
	if req.Role == database.RoleOwner {
		return nil, CodedErrorf(http.StatusBadRequest, "role: the owner role cannot be assigned")
	}

	txn := s.db.WithContext(r.Context())
	membership, err := s.loadMembership(r, txn)
	if err != nil {
		return nil, err
	}
	if membership.Role == database.RoleOwner {
		return nil, CodedErrorf(http.StatusBadRequest, "the role of the organization owner cannot be changed")
	}

	key, err := s.invitationKey(txn, membership.Id)
	if err != nil {
		return nil, err
	}
	old := convertMembership(membership, key)

	membership.Role = req.Role
	if err := txn.Model(&database.Membership{Id: membership.Id}).Update("role", req.Role).Error; err != nil {
		return nil, fmt.Errorf("error updating membership %d: %w", membership.Id, err)
	}

	result := convertMembership(membership, key)
	s.emitUpdated(r, events.ResourceMembership, old, result, s.objectContext(r, &membership.OrganizationId, nil, nil, nil))
	return result, nil
}

func (s *BackendService) DeleteMembership(r *http.Request) (any, error) {
	var membership database.Membership
	err := s.transaction(r, func(txn *gorm.DB) error {
		var err error
		if membership, err = s.loadMembership(r, txn); err != nil {
			return err
		}
		if membership.Role == database.RoleOwner {
			return CodedErrorf(http.StatusBadRequest, "the organization owner cannot be removed")
		}
		if err := txn.Where("membership_id = ?", membership.Id).Delete(&database.Invitation{}).Error; err != nil {
			return fmt.Errorf("error deleting invitation of membership %d: %w", membership.Id, err)
		}
		if err := txn.Delete(&database.Membership{}, membership.Id).Error; err != nil {
			return fmt.Errorf("error deleting membership %d: %w", membership.Id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceMembership, membership.Id, nil, s.objectContext(r, &membership.OrganizationId, nil, nil, nil))
	return nil, nil
}

func newInvitationKey() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

var invitationPreloads = []string{"Owner", "Membership", "Membership.User"}

type InvitationFilter struct {
	Pagination
	Owner string `schema:"owner"`
}

var invitationListing = listing{
	sortable: map[string]string{"created_date": "created_date", "key": "key"},
}

func (s *BackendService) ListInvitations(r *http.Request) (any, error) {
	filter, err := ParseRequestQueryParams[InvitationFilter](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	query := txn
	for _, p := range invitationPreloads {
		query = query.Preload(p)
	}
	query = filterUser(query, "owner_id", filter.Owner)
	if orgId := currentOrgId(r); orgId != nil {
		query = query.Where("membership_id IN (?)",
			txn.Model(&database.Membership{}).Select("id").Where("organization_id = ?", *orgId))
	}

	return paginate(r, query, filter.Pagination, invitationListing, func(i database.Invitation) (api.Invitation, error) {
		return convertInvitation(i), nil
	})
}

func (s *BackendService) loadInvitation(r *http.Request, txn *gorm.DB) (database.Invitation, error) {
	key := chi.URLParam(r, "key")
	query := txn
	for _, p := range invitationPreloads {
		query = query.Preload(p)
	}
	var invitation database.Invitation
	if err := query.First(&invitation, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invitation, notFound("invitation", key)
		}
		return invitation, fmt.Errorf("error loading invitation: %w", err)
	}
	return invitation, nil
}

func (s *BackendService) GetInvitation(r *http.Request) (any, error) {
	invitation, err := s.loadInvitation(r, s.db.WithContext(r.Context()))
	if err != nil {
		return nil, err
	}
	return convertInvitation(invitation), nil
}

func (s *BackendService) CreateInvitation(r *http.Request) (any, error) {
	org := currentOrg(r)
	if org == nil {
		return nil, CodedErrorf(http.StatusBadRequest, "an organization context is required to invite users")
	}

	req, err := ParseRequest[api.CreateInvitationRequest](r)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(memberRoles, req.Role) || req.Role == database.RoleOwner {
		return nil, CodedErrorf(http.StatusBadRequest, "role: \"%s\" is not a valid choice.", req.Role)
	}
	if req.Email == "" && req.Username == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "email or username must be provided")
	}

	var invitation database.Invitation
	err = s.transaction(r, func(txn *gorm.DB) error {
		var user database.User
		query := txn
		if req.Email != "" {
			query = query.Where("email = ?", req.Email)
		} else {
			query = query.Where("username = ?", req.Username)
		}
		if err := query.First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return CodedErrorf(http.StatusBadRequest, "user not found")
			}
			return fmt.Errorf("error loading invited user: %w", err)
		}

		var count int64
		if err := txn.Model(&database.Membership{}).Where("user_id = ? AND organization_id = ?", user.Id, org.Id).Count(&count).Error; err != nil {
			return fmt.Errorf("error checking membership: %w", err)
		}
		if count > 0 {
			return CodedErrorf(http.StatusBadRequest, "The user is already a member of this organization")
		}

		membership := database.Membership{UserId: user.Id, OrganizationId: org.Id, Role: req.Role}
		if err := txn.Create(&membership).Error; err != nil {
			return fmt.Errorf("error creating membership: %w", err)
		}

		invitation = database.Invitation{
			Key:          newInvitationKey(),
			CreatedDate:  time.Now().UTC(),
			OwnerId:      currentUserId(r),
			MembershipId: membership.Id,
		}
		if err := txn.Create(&invitation).Error; err != nil {
			return fmt.Errorf("error creating invitation: %w", err)
		}

		membership.User = &user
		invitation.Membership = &membership
		invitation.Owner = currentUser(r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := convertInvitation(invitation)
	s.emitCreated(r, events.ResourceInvitation, invitation.MembershipId, nil, result, s.objectContext(r, &org.Id, nil, nil, nil))
	return result, nil
}

// AcceptInvitation activates the membership behind an invitation.
func (s *BackendService) AcceptInvitation(r *http.Request) (any, error) {
	if !r.URL.Query().Has("accepted") {
		return nil, CodedErrorf(http.StatusBadRequest, "invitations can only be accepted")
	}

	txn := s.db.WithContext(r.Context())
	invitation, err := s.loadInvitation(r, txn)
	if err != nil {
		return nil, err
	}

	membership := invitation.Membership
	if !membership.IsActive {
		membership.IsActive = true
		membership.JoinedDate = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		err := txn.Model(&database.Membership{Id: membership.Id}).Updates(map[string]any{
			"is_active":   true,
			"joined_date": membership.JoinedDate,
		}).Error
		if err != nil {
			return nil, fmt.Errorf("error accepting invitation: %w", err)
		}
	}

	return convertInvitation(invitation), nil
}

func (s *BackendService) DeleteInvitation(r *http.Request) (any, error) {
	var invitation database.Invitation
	err := s.transaction(r, func(txn *gorm.DB) error {
		var err error
		if invitation, err = s.loadInvitation(r, txn); err != nil {
			return err
		}
		if err := txn.Where("key = ?", invitation.Key).Delete(&database.Invitation{}).Error; err != nil {
			return fmt.Errorf("error deleting invitation: %w", err)
		}
		if !invitation.Membership.IsActive {
			if err := txn.Delete(&database.Membership{}, invitation.MembershipId).Error; err != nil {
				return fmt.Errorf("error deleting pending membership: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitDeleted(r, events.ResourceInvitation, invitation.MembershipId, nil,
		s.objectContext(r, &invitation.Membership.OrganizationId, nil, nil, nil))
	return nil, nil
}
