package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	Id          int    `gorm:"primaryKey"`
	Username    string `gorm:"size:150;uniqueIndex;not null"`
	FirstName   string `gorm:"size:150"`
	LastName    string `gorm:"size:150"`
	Email       string `gorm:"size:254;index"`
	IsStaff     bool   `gorm:"default:false"`
	IsSuperuser bool   `gorm:"default:false"`
	IsActive    bool   `gorm:"default:true"`
	DateJoined  time.Time
	LastLogin   sql.NullTime
}

const (
	RoleWorker     string = "worker"
	RoleSupervisor string = "supervisor"
	RoleMaintainer string = "maintainer"
	RoleOwner      string = "owner"
)

type Organization struct {
	Id          int    `gorm:"primaryKey"`
	Slug        string `gorm:"size:16;uniqueIndex;not null"`
	Name        string `gorm:"size:64"`
	Description string
	Contact     datatypes.JSON
	CreatedDate time.Time
	UpdatedDate time.Time

	OwnerId *int
	Owner   *User `gorm:"foreignKey:OwnerId;constraint:OnDelete:SET NULL"`
}

type Membership struct {
	Id             int `gorm:"primaryKey"`
	UserId         int `gorm:"index;not null"`
	User           *User
	OrganizationId int `gorm:"index;not null"`
	Organization   *Organization
	IsActive       bool `gorm:"default:false"`
	JoinedDate     sql.NullTime
	Role           string `gorm:"size:16;not null"`
}

type Invitation struct {
	Key          string `gorm:"size:64;primaryKey"`
	CreatedDate  time.Time
	OwnerId      *int
	Owner        *User
	MembershipId int `gorm:"uniqueIndex;not null"`
	Membership   *Membership
}

const (
	LocationLocal        string = "local"
	LocationCloudStorage string = "cloud_storage"
)

type Storage struct {
	Id             int    `gorm:"primaryKey"`
	Location       string `gorm:"size:16;not null;default:local"`
	CloudStorageId *int
}

const (
	StatusAnnotation string = "annotation"
	StatusValidation string = "validation"
	StatusCompleted  string = "completed"

	StageAnnotation string = "annotation"
	StageValidation string = "validation"
	StageAcceptance string = "acceptance"

	StateNew        string = "new"
	StateInProgress string = "in progress"
	StateRejected   string = "rejected"
	StateCompleted  string = "completed"
)

type Project struct {
	Id          int    `gorm:"primaryKey"`
	Name        string `gorm:"size:256;not null"`
	OwnerId     *int
	Owner       *User `gorm:"foreignKey:OwnerId"`
	AssigneeId  *int
	Assignee    *User  `gorm:"foreignKey:AssigneeId"`
	BugTracker  string `gorm:"size:2000"`
	CreatedDate time.Time
	UpdatedDate time.Time
	Status      string `gorm:"size:32;not null;default:annotation"`

	OrganizationId *int
	Organization   *Organization

	SourceStorageId *int
	SourceStorage   *Storage `gorm:"foreignKey:SourceStorageId"`
	TargetStorageId *int
	TargetStorage   *Storage `gorm:"foreignKey:TargetStorageId"`
}

type Data struct {
	Id                  int  `gorm:"primaryKey"`
	ChunkSize           *int `gorm:"default:null"`
	Size                int  `gorm:"default:0"`
	ImageQuality        int  `gorm:"default:50"`
	StartFrame          int  `gorm:"default:0"`
	StopFrame           int  `gorm:"default:0"`
	FrameFilter         string
	CompressedChunkType string `gorm:"size:32;default:imageset"`
	OriginalChunkType   string `gorm:"size:32;default:imageset"`
	StorageMethod       string `gorm:"size:16;default:file_system"`
	Storage             string `gorm:"size:16;default:local"`
	SortingMethod       string `gorm:"size:16;default:lexicographical"`
	FilenamePattern     string
	CloudStorageId      *int

	ClientFiles   datatypes.JSON
	ServerFiles   datatypes.JSON
	RemoteFiles   datatypes.JSON
	DeletedFrames datatypes.JSON
}

const (
	ModeAnnotation    string = "annotation"
	ModeInterpolation string = "interpolation"

	Dimension2D string = "2d"
	Dimension3D string = "3d"
)

type Task struct {
	Id          int    `gorm:"primaryKey"`
	Name        string `gorm:"size:256;not null"`
	ProjectId   *int   `gorm:"index"`
	Project     *Project
	Mode        string `gorm:"size:32"`
	OwnerId     *int
	Owner       *User `gorm:"foreignKey:OwnerId"`
	AssigneeId  *int
	Assignee    *User  `gorm:"foreignKey:AssigneeId"`
	BugTracker  string `gorm:"size:2000"`
	CreatedDate time.Time
	UpdatedDate time.Time
	Overlap     *int
	SegmentSize int    `gorm:"default:0"`
	Status      string `gorm:"size:32;not null;default:annotation"`
	DataId      *int
	Data        *Data
	Dimension   string `gorm:"size:2;default:2d"`
	Subset      string `gorm:"size:64"`

	OrganizationId *int
	Organization   *Organization

	SourceStorageId *int
	SourceStorage   *Storage `gorm:"foreignKey:SourceStorageId"`
	TargetStorageId *int
	TargetStorage   *Storage `gorm:"foreignKey:TargetStorageId"`

	Segments []Segment `gorm:"foreignKey:TaskId;constraint:OnDelete:CASCADE"`
}

type Segment struct {
	Id         int `gorm:"primaryKey"`
	TaskId     int `gorm:"index;not null"`
	Task       *Task
	StartFrame int
	StopFrame  int

	Jobs []Job `gorm:"foreignKey:SegmentId;constraint:OnDelete:CASCADE"`
}

type Job struct {
	Id          int `gorm:"primaryKey"`
	SegmentId   int `gorm:"index;not null"`
	Segment     *Segment
	AssigneeId  *int
	Assignee    *User `gorm:"foreignKey:AssigneeId"`
	UpdatedDate time.Time
	Status      string `gorm:"size:32;not null;default:annotation"`
	Stage       string `gorm:"size:32;not null;default:annotation"`
	State       string `gorm:"size:32;not null;default:new"`
}

const (
	LabelAny       string = "any"
	LabelCuboid    string = "cuboid"
	LabelEllipse   string = "ellipse"
	LabelMask      string = "mask"
	LabelPoints    string = "points"
	LabelPolygon   string = "polygon"
	LabelPolyline  string = "polyline"
	LabelRectangle string = "rectangle"
	LabelSkeleton  string = "skeleton"
	LabelTag       string = "tag"
)

type Label struct {
	Id        int  `gorm:"primaryKey"`
	TaskId    *int `gorm:"index"`
	ProjectId *int `gorm:"index"`
	Name      string `gorm:"size:64;not null"`
	Color     string `gorm:"size:8"`
	Type      string `gorm:"size:32;default:any"`
	ParentId  *int   `gorm:"index"`

	Sublabels  []Label         `gorm:"foreignKey:ParentId"`
	Attributes []AttributeSpec `gorm:"foreignKey:LabelId;constraint:OnDelete:CASCADE"`
	Skeleton   *Skeleton       `gorm:"foreignKey:RootId;constraint:OnDelete:CASCADE"`
}

type Skeleton struct {
	Id     int `gorm:"primaryKey"`
	RootId int `gorm:"uniqueIndex;not null"`
	Svg    string
}

const (
	InputCheckbox string = "checkbox"
	InputRadio    string = "radio"
	InputNumber   string = "number"
	InputText     string = "text"
	InputSelect   string = "select"
)

type AttributeSpec struct {
	Id           int    `gorm:"primaryKey"`
	LabelId      int    `gorm:"index;not null"`
	Name         string `gorm:"size:64;not null"`
	Mutable      bool
	InputType    string `gorm:"size:16"`
	DefaultValue string `gorm:"size:128"`
	Values       string `gorm:"size:4096"`
}

const (
	ShapeRectangle string = "rectangle"
	ShapePolygon   string = "polygon"
	ShapePolyline  string = "polyline"
	ShapePoints    string = "points"
	ShapeEllipse   string = "ellipse"
	ShapeCuboid    string = "cuboid"
	ShapeMask      string = "mask"
	ShapeSkeleton  string = "skeleton"
)

var ShapeTypes = []string{
	ShapeRectangle, ShapePolygon, ShapePolyline, ShapePoints,
	ShapeEllipse, ShapeCuboid, ShapeMask, ShapeSkeleton,
}

type LabeledImage struct {
	Id         int `gorm:"primaryKey"`
	JobId      int `gorm:"index;not null"`
	LabelId    int `gorm:"index;not null"`
	Frame      int
	Group      *int
	Source     string         `gorm:"size:16;default:manual"`
	Attributes datatypes.JSON // [{"spec_id":1,"value":"x"}]
}

type LabeledShape struct {
	Id         int `gorm:"primaryKey"`
	JobId      int `gorm:"index;not null"`
	LabelId    int `gorm:"index;not null"`
	ParentId   *int `gorm:"index"`
	Frame      int
	Group      *int
	Source     string `gorm:"size:16;default:manual"`
	Type       string `gorm:"size:16;not null"`
	Occluded   bool
	Outside    bool
	ZOrder     int
	Rotation   float64
	Points     datatypes.JSON
	Attributes datatypes.JSON
}

type LabeledTrack struct {
	Id         int  `gorm:"primaryKey"`
	JobId      int  `gorm:"index;not null"`
	LabelId    int  `gorm:"index;not null"`
	ParentId   *int `gorm:"index"`
	Frame      int
	Group      *int
	Source     string `gorm:"size:16;default:manual"`
	Attributes datatypes.JSON

	Shapes []TrackedShape `gorm:"foreignKey:TrackId;constraint:OnDelete:CASCADE"`
}

type TrackedShape struct {
	Id         int `gorm:"primaryKey"`
	TrackId    int `gorm:"index;not null"`
	Frame      int
	Type       string `gorm:"size:16;not null"`
	Occluded   bool
	Outside    bool
	ZOrder     int
	Rotation   float64
	Points     datatypes.JSON
	Attributes datatypes.JSON
}

type Issue struct {
	Id          int `gorm:"primaryKey"`
	Frame       int
	Position    datatypes.JSON
	JobId       int `gorm:"index;not null"`
	Job         *Job
	OwnerId     *int
	Owner       *User `gorm:"foreignKey:OwnerId"`
	AssigneeId  *int
	Assignee    *User `gorm:"foreignKey:AssigneeId"`
	CreatedDate time.Time
	UpdatedDate sql.NullTime
	Resolved    bool

	Comments []Comment `gorm:"foreignKey:IssueId;constraint:OnDelete:CASCADE"`
}

type Comment struct {
	Id          int `gorm:"primaryKey"`
	IssueId     int `gorm:"index;not null"`
	Issue       *Issue
	OwnerId     *int
	Owner       *User `gorm:"foreignKey:OwnerId"`
	Message     string
	CreatedDate time.Time
	UpdatedDate time.Time
}

const (
	ProviderAWSS3       string = "AWS_S3_BUCKET"
	ProviderAzure       string = "AZURE_CONTAINER"
	ProviderGoogleDrive string = "GOOGLE_DRIVE"
	ProviderGCS         string = "GOOGLE_CLOUD_STORAGE"

	CredentialsKeySecretKeyPair    string = "KEY_SECRET_KEY_PAIR"
	CredentialsAccountNameTokenPair string = "ACCOUNT_NAME_TOKEN_PAIR"
	CredentialsKeyFilePath         string = "KEY_FILE_PATH"
	CredentialsAnonymousAccess     string = "ANONYMOUS_ACCESS"
	CredentialsConnectionString    string = "CONNECTION_STRING"
)

type CloudStorage struct {
	Id                 int    `gorm:"primaryKey"`
	ProviderType       string `gorm:"size:20;not null"`
	Resource           string `gorm:"size:222;not null"`
	DisplayName        string `gorm:"size:63"`
	OwnerId            *int
	Owner              *User `gorm:"foreignKey:OwnerId"`
	CreatedDate        time.Time
	UpdatedDate        time.Time
	CredentialsType    string `gorm:"size:29;not null"`
	Credentials        string `gorm:"size:1024"`
	SpecificAttributes string `gorm:"size:1024"`
	Description        string

	OrganizationId *int
	Organization   *Organization

	Manifests []Manifest `gorm:"foreignKey:CloudStorageId;constraint:OnDelete:CASCADE"`
}

type Manifest struct {
	Id             int    `gorm:"primaryKey"`
	Filename       string `gorm:"size:1024;not null"`
	CloudStorageId int    `gorm:"index;not null"`
}

type Event struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Scope     string    `gorm:"size:64;index;not null"`
	ObjName   sql.NullString
	ObjId     *int
	ObjVal    sql.NullString
	Source    string    `gorm:"size:16"`
	Timestamp time.Time `gorm:"index"`
	Count     *int
	Duration  int `gorm:"default:0"`

	ProjectId *int `gorm:"index"`
	TaskId    *int `gorm:"index"`
	JobId     *int `gorm:"index"`
	UserId    *int `gorm:"index"`
	UserName  sql.NullString
	UserEmail sql.NullString
	OrgId     *int `gorm:"index"`
	OrgSlug   sql.NullString

	Payload datatypes.JSON
}
