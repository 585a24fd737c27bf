package api

import (
	"encoding/json"
	"time"
)

type BasicUser struct {
	Id        int    `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type User struct {
	Id          int        `json:"id"`
	Username    string     `json:"username"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       string     `json:"email"`
	IsStaff     bool       `json:"is_staff"`
	IsSuperuser bool       `json:"is_superuser"`
	IsActive    bool       `json:"is_active"`
	DateJoined  time.Time  `json:"date_joined"`
	LastLogin   *time.Time `json:"last_login"`
}

type ServerAbout struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Collection summarizes a related list by its size and the url listing it.
type Collection struct {
	Count int    `json:"count"`
	Url   string `json:"url"`
}

type JobsSummary struct {
	Count     int    `json:"count"`
	Completed int    `json:"completed"`
	Url       string `json:"url"`
}

type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

type Storage struct {
	Id             int    `json:"id"`
	Location       string `json:"location"`
	CloudStorageId *int   `json:"cloud_storage_id"`
}

type StorageRequest struct {
	Location       string `json:"location,omitempty"`
	CloudStorageId *int   `json:"cloud_storage_id,omitempty"`
}

type Attribute struct {
	Id           int      `json:"id"`
	Name         string   `json:"name"`
	Mutable      bool     `json:"mutable"`
	InputType    string   `json:"input_type"`
	DefaultValue string   `json:"default_value"`
	Values       []string `json:"values"`
}

// AttributeSpec is the write form of an attribute. Omitted fields keep their
// stored value on update.
type AttributeSpec struct {
	Id           *int     `json:"id,omitempty"`
	Name         string   `json:"name"`
	Mutable      *bool    `json:"mutable,omitempty"`
	InputType    string   `json:"input_type,omitempty"`
	DefaultValue *string  `json:"default_value,omitempty"`
	Values       []string `json:"values,omitempty"`
}

// LabelSpec is the write form of a label. Empty fields mean "keep" on update.
type LabelSpec struct {
	Id         *int            `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Color      string          `json:"color,omitempty"`
	Type       string          `json:"type,omitempty"`
	Deleted    bool            `json:"deleted,omitempty"`
	Svg        string          `json:"svg,omitempty"`
	Attributes []AttributeSpec `json:"attributes,omitempty"`
	Sublabels  []LabelSpec     `json:"sublabels,omitempty"`
}

type Sublabel struct {
	Id         int         `json:"id"`
	Name       string      `json:"name"`
	Color      string      `json:"color"`
	Attributes []Attribute `json:"attributes"`
	Type       string      `json:"type"`
	HasParent  bool        `json:"has_parent"`
}

type Label struct {
	Id         int         `json:"id"`
	Name       string      `json:"name"`
	Color      string      `json:"color"`
	Attributes []Attribute `json:"attributes"`
	Type       string      `json:"type"`
	Svg        string      `json:"svg,omitempty"`
	Sublabels  []Sublabel  `json:"sublabels"`
	ProjectId  *int        `json:"project_id,omitempty"`
	TaskId     *int        `json:"task_id,omitempty"`
	ParentId   *int        `json:"parent_id"`
	HasParent  bool        `json:"has_parent"`
}

type Project struct {
	Id            int         `json:"id"`
	Name          string      `json:"name"`
	Owner         *BasicUser  `json:"owner"`
	Assignee      *BasicUser  `json:"assignee"`
	BugTracker    string      `json:"bug_tracker"`
	TaskSubsets   []string    `json:"task_subsets"`
	CreatedDate   time.Time   `json:"created_date"`
	UpdatedDate   time.Time   `json:"updated_date"`
	Status        string      `json:"status"`
	Dimension     *string     `json:"dimension"`
	Organization  *int        `json:"organization"`
	TargetStorage *Storage    `json:"target_storage"`
	SourceStorage *Storage    `json:"source_storage"`
	Tasks         Collection  `json:"tasks"`
	Labels        Collection  `json:"labels"`
}

type CreateProjectRequest struct {
	Name          string          `json:"name"`
	Labels        []LabelSpec     `json:"labels"`
	OwnerId       *int            `json:"owner_id"`
	AssigneeId    *int            `json:"assignee_id"`
	BugTracker    string          `json:"bug_tracker"`
	SourceStorage *StorageRequest `json:"source_storage"`
	TargetStorage *StorageRequest `json:"target_storage"`
}

type PatchProjectRequest struct {
	Name          *string         `json:"name"`
	Labels        []LabelSpec     `json:"labels"`
	OwnerId       *int            `json:"owner_id"`
	AssigneeId    *int            `json:"assignee_id"`
	BugTracker    *string         `json:"bug_tracker"`
	SourceStorage *StorageRequest `json:"source_storage"`
	TargetStorage *StorageRequest `json:"target_storage"`
}

type Task struct {
	Id                      int         `json:"id"`
	Name                    string      `json:"name"`
	ProjectId               *int        `json:"project_id"`
	Mode                    string      `json:"mode"`
	Owner                   *BasicUser  `json:"owner"`
	Assignee                *BasicUser  `json:"assignee"`
	BugTracker              string      `json:"bug_tracker"`
	CreatedDate             time.Time   `json:"created_date"`
	UpdatedDate             time.Time   `json:"updated_date"`
	Overlap                 *int        `json:"overlap"`
	SegmentSize             int         `json:"segment_size"`
	Status                  string      `json:"status"`
	DataChunkSize           *int        `json:"data_chunk_size"`
	DataCompressedChunkType string      `json:"data_compressed_chunk_type"`
	DataOriginalChunkType   string      `json:"data_original_chunk_type"`
	Size                    int         `json:"size"`
	ImageQuality            int         `json:"image_quality"`
	Data                    *int        `json:"data"`
	Dimension               string      `json:"dimension"`
	Subset                  string      `json:"subset"`
	Organization            *int        `json:"organization"`
	TargetStorage           *Storage    `json:"target_storage"`
	SourceStorage           *Storage    `json:"source_storage"`
	Jobs                    JobsSummary `json:"jobs"`
	Labels                  Collection  `json:"labels"`
}

type CreateTaskRequest struct {
	Name          string          `json:"name"`
	ProjectId     *int            `json:"project_id"`
	Labels        []LabelSpec     `json:"labels"`
	OwnerId       *int            `json:"owner_id"`
	AssigneeId    *int            `json:"assignee_id"`
	BugTracker    string          `json:"bug_tracker"`
	Overlap       *int            `json:"overlap"`
	SegmentSize   int             `json:"segment_size"`
	Subset        string          `json:"subset"`
	SourceStorage *StorageRequest `json:"source_storage"`
	TargetStorage *StorageRequest `json:"target_storage"`
}

type PatchTaskRequest struct {
	Name          *string         `json:"name"`
	ProjectId     *int            `json:"project_id"`
	Labels        []LabelSpec     `json:"labels"`
	OwnerId       *int            `json:"owner_id"`
	AssigneeId    *int            `json:"assignee_id"`
	BugTracker    *string         `json:"bug_tracker"`
	Overlap       *int            `json:"overlap"`
	SegmentSize   *int            `json:"segment_size"`
	Subset        *string         `json:"subset"`
	SourceStorage *StorageRequest `json:"source_storage"`
	TargetStorage *StorageRequest `json:"target_storage"`
}

type DataRequest struct {
	ImageQuality    *int             `json:"image_quality"`
	ChunkSize       *int             `json:"chunk_size"`
	StartFrame      int              `json:"start_frame"`
	StopFrame       *int             `json:"stop_frame"`
	FrameFilter     string           `json:"frame_filter"`
	ClientFiles     []string         `json:"client_files"`
	ServerFiles     []string         `json:"server_files"`
	RemoteFiles     []string         `json:"remote_files"`
	UseZipChunks    bool             `json:"use_zip_chunks"`
	UseCache        bool             `json:"use_cache"`
	CopyData        bool             `json:"copy_data"`
	CloudStorageId  *int             `json:"cloud_storage_id"`
	FilenamePattern string           `json:"filename_pattern"`
	SortingMethod   string           `json:"sorting_method"`
	StorageMethod   string           `json:"storage_method"`
	Storage         string           `json:"storage"`
	JobFileMapping  [][]string       `json:"job_file_mapping"`
}

type FrameMeta struct {
	Name string `json:"name"`
}

type DataMeta struct {
	ChunkSize     *int        `json:"chunk_size"`
	Size          int         `json:"size"`
	ImageQuality  int         `json:"image_quality"`
	StartFrame    int         `json:"start_frame"`
	StopFrame     int         `json:"stop_frame"`
	FrameFilter   string      `json:"frame_filter"`
	DeletedFrames []int       `json:"deleted_frames"`
	Frames        []FrameMeta `json:"frames"`
}

type PatchDataMetaRequest struct {
	DeletedFrames []int `json:"deleted_frames"`
}

type Job struct {
	Id                      int        `json:"id"`
	TaskId                  int        `json:"task_id"`
	ProjectId               *int       `json:"project_id"`
	Assignee                *BasicUser `json:"assignee"`
	Dimension               string     `json:"dimension"`
	BugTracker              string     `json:"bug_tracker"`
	Status                  string     `json:"status"`
	Stage                   string     `json:"stage"`
	State                   string     `json:"state"`
	Mode                    string     `json:"mode"`
	StartFrame              int        `json:"start_frame"`
	StopFrame               int        `json:"stop_frame"`
	DataChunkSize           *int       `json:"data_chunk_size"`
	DataCompressedChunkType string     `json:"data_compressed_chunk_type"`
	UpdatedDate             time.Time  `json:"updated_date"`
	Issues                  Collection `json:"issues"`
	Labels                  Collection `json:"labels"`
}

type PatchJobRequest struct {
	Assignee *int    `json:"assignee"`
	Stage    *string `json:"stage"`
	State    *string `json:"state"`
}

type Organization struct {
	Id          int            `json:"id"`
	Slug        string         `json:"slug"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Contact     map[string]any `json:"contact"`
	Owner       *BasicUser     `json:"owner"`
	CreatedDate time.Time      `json:"created_date"`
	UpdatedDate time.Time      `json:"updated_date"`
}

type CreateOrganizationRequest struct {
	Slug        string         `json:"slug"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Contact     map[string]any `json:"contact"`
}

type PatchOrganizationRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Contact     map[string]any `json:"contact"`
}

type Membership struct {
	Id           int        `json:"id"`
	User         *BasicUser `json:"user"`
	Organization int        `json:"organization"`
	IsActive     bool       `json:"is_active"`
	JoinedDate   *time.Time `json:"joined_date"`
	Role         string     `json:"role"`
	Invitation   *string    `json:"invitation"`
}

type PatchMembershipRequest struct {
	Role string `json:"role"`
}

type Invitation struct {
	Key          string     `json:"key"`
	CreatedDate  time.Time  `json:"created_date"`
	Owner        *BasicUser `json:"owner"`
	Role         string     `json:"role"`
	Organization int        `json:"organization"`
	User         *BasicUser `json:"user"`
}

type CreateInvitationRequest struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type Issue struct {
	Id          int        `json:"id"`
	Frame       int        `json:"frame"`
	Position    []float64  `json:"position"`
	Job         int        `json:"job"`
	Owner       *BasicUser `json:"owner"`
	Assignee    *BasicUser `json:"assignee"`
	CreatedDate time.Time  `json:"created_date"`
	UpdatedDate *time.Time `json:"updated_date"`
	Resolved    bool       `json:"resolved"`
	Comments    Collection `json:"comments"`
}

type CreateIssueRequest struct {
	Frame      int       `json:"frame"`
	Position   []float64 `json:"position"`
	Job        int       `json:"job"`
	AssigneeId *int      `json:"assignee_id"`
	Message    string    `json:"message"`
	Resolved   bool      `json:"resolved"`
}

type PatchIssueRequest struct {
	Frame      *int      `json:"frame"`
	Position   []float64 `json:"position"`
	Job        *int      `json:"job"`
	AssigneeId *int      `json:"assignee_id"`
	Message    *string   `json:"message"`
	Resolved   *bool     `json:"resolved"`
}

type Comment struct {
	Id          int        `json:"id"`
	Issue       int        `json:"issue"`
	Owner       *BasicUser `json:"owner"`
	Message     string     `json:"message"`
	CreatedDate time.Time  `json:"created_date"`
	UpdatedDate time.Time  `json:"updated_date"`
}

type CreateCommentRequest struct {
	Issue   int    `json:"issue"`
	Message string `json:"message"`
}

type PatchCommentRequest struct {
	Message string `json:"message"`
}

type Event struct {
	Scope     string          `json:"scope"`
	ObjName   *string         `json:"obj_name"`
	ObjId     *int            `json:"obj_id"`
	ObjVal    *string         `json:"obj_val"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Count     *int            `json:"count"`
	Duration  int             `json:"duration"`
	ProjectId *int            `json:"project_id"`
	TaskId    *int            `json:"task_id"`
	JobId     *int            `json:"job_id"`
	UserId    *int            `json:"user_id"`
	UserName  *string         `json:"user_name"`
	UserEmail *string         `json:"user_email"`
	OrgId     *int            `json:"org_id"`
	OrgSlug   *string         `json:"org_slug"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ClientEventsRequest struct {
	Events    []Event   `json:"events"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientEventsResponse struct {
	Events    []Event   `json:"events"`
	Timestamp time.Time `json:"timestamp"`
}
