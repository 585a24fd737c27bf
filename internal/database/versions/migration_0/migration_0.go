package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
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

type Organization struct {
	Id          int    `gorm:"primaryKey"`
	Slug        string `gorm:"size:16;uniqueIndex;not null"`
	Name        string `gorm:"size:64"`
	Description string
	Contact     datatypes.JSON
	CreatedDate time.Time
	UpdatedDate time.Time
	OwnerId     *int
}

type Membership struct {
	Id             int `gorm:"primaryKey"`
	UserId         int `gorm:"index;not null"`
	OrganizationId int `gorm:"index;not null"`
	IsActive       bool `gorm:"default:false"`
	JoinedDate     sql.NullTime
	Role           string `gorm:"size:16;not null"`
}

type Invitation struct {
	Key          string `gorm:"size:64;primaryKey"`
	CreatedDate  time.Time
	OwnerId      *int
	MembershipId int `gorm:"uniqueIndex;not null"`
}

type Storage struct {
	Id             int    `gorm:"primaryKey"`
	Location       string `gorm:"size:16;not null;default:local"`
	CloudStorageId *int
}

type Project struct {
	Id              int    `gorm:"primaryKey"`
	Name            string `gorm:"size:256;not null"`
	OwnerId         *int
	AssigneeId      *int
	BugTracker      string `gorm:"size:2000"`
	CreatedDate     time.Time
	UpdatedDate     time.Time
	Status          string `gorm:"size:32;not null;default:annotation"`
	OrganizationId  *int
	SourceStorageId *int
	TargetStorageId *int
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
	ClientFiles         datatypes.JSON
	ServerFiles         datatypes.JSON
	RemoteFiles         datatypes.JSON
	DeletedFrames       datatypes.JSON
}

type Task struct {
	Id              int    `gorm:"primaryKey"`
	Name            string `gorm:"size:256;not null"`
	ProjectId       *int   `gorm:"index"`
	Mode            string `gorm:"size:32"`
	OwnerId         *int
	AssigneeId      *int
	BugTracker      string `gorm:"size:2000"`
	CreatedDate     time.Time
	UpdatedDate     time.Time
	Overlap         *int
	SegmentSize     int    `gorm:"default:0"`
	Status          string `gorm:"size:32;not null;default:annotation"`
	DataId          *int
	Dimension       string `gorm:"size:2;default:2d"`
	Subset          string `gorm:"size:64"`
	OrganizationId  *int
	SourceStorageId *int
	TargetStorageId *int
}

type Segment struct {
	Id         int `gorm:"primaryKey"`
	TaskId     int `gorm:"index;not null"`
	StartFrame int
	StopFrame  int
}

type Job struct {
	Id          int `gorm:"primaryKey"`
	SegmentId   int `gorm:"index;not null"`
	AssigneeId  *int
	UpdatedDate time.Time
	Status      string `gorm:"size:32;not null;default:annotation"`
	Stage       string `gorm:"size:32;not null;default:annotation"`
	State       string `gorm:"size:32;not null;default:new"`
}

type Label struct {
	Id        int    `gorm:"primaryKey"`
	TaskId    *int   `gorm:"index"`
	ProjectId *int   `gorm:"index"`
	Name      string `gorm:"size:64;not null"`
	Color     string `gorm:"size:8"`
	Type      string `gorm:"size:32;default:any"`
	ParentId  *int   `gorm:"index"`
}

type Skeleton struct {
	Id     int `gorm:"primaryKey"`
	RootId int `gorm:"uniqueIndex;not null"`
	Svg    string
}

type AttributeSpec struct {
	Id           int    `gorm:"primaryKey"`
	LabelId      int    `gorm:"index;not null"`
	Name         string `gorm:"size:64;not null"`
	Mutable      bool
	InputType    string `gorm:"size:16"`
	DefaultValue string `gorm:"size:128"`
	Values       string `gorm:"size:4096"`
}

type LabeledImage struct {
	Id         int `gorm:"primaryKey"`
	JobId      int `gorm:"index;not null"`
	LabelId    int `gorm:"index;not null"`
	Frame      int
	Group      *int
	Source     string `gorm:"size:16;default:manual"`
	Attributes datatypes.JSON
}

type LabeledShape struct {
	Id         int  `gorm:"primaryKey"`
	JobId      int  `gorm:"index;not null"`
	LabelId    int  `gorm:"index;not null"`
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
	OwnerId     *int
	AssigneeId  *int
	CreatedDate time.Time
	UpdatedDate sql.NullTime
	Resolved    bool
}

type Comment struct {
	Id          int `gorm:"primaryKey"`
	IssueId     int `gorm:"index;not null"`
	OwnerId     *int
	Message     string
	CreatedDate time.Time
	UpdatedDate time.Time
}

type CloudStorage struct {
	Id                 int    `gorm:"primaryKey"`
	ProviderType       string `gorm:"size:20;not null"`
	Resource           string `gorm:"size:222;not null"`
	DisplayName        string `gorm:"size:63"`
	OwnerId            *int
	CreatedDate        time.Time
	UpdatedDate        time.Time
	CredentialsType    string `gorm:"size:29;not null"`
	Credentials        string `gorm:"size:1024"`
	SpecificAttributes string `gorm:"size:1024"`
	Description        string
	OrganizationId     *int
}

type Manifest struct {
	Id             int    `gorm:"primaryKey"`
	Filename       string `gorm:"size:1024;not null"`
	CloudStorageId int    `gorm:"index;not null"`
}

func Migration(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{}, &Organization{}, &Membership{}, &Invitation{}, &Storage{},
		&Project{}, &Data{}, &Task{}, &Segment{}, &Job{},
		&Label{}, &Skeleton{}, &AttributeSpec{},
		&LabeledImage{}, &LabeledShape{}, &LabeledTrack{}, &TrackedShape{},
		&Issue{}, &Comment{}, &CloudStorage{}, &Manifest{},
	)
	if err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
