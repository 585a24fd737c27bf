package api

import (
	"cmp"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"annotation-backend/internal/database"
	"annotation-backend/internal/events"
	"annotation-backend/pkg/api"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SortLexicographical = "lexicographical"
	SortNatural         = "natural"
	SortPredefined      = "predefined"
	SortRandom          = "random"
)

var (
	sortingMethods = []string{SortLexicographical, SortNatural, SortPredefined, SortRandom}
	storageMethods = []string{"cache", "file_system"}
	dataStorages   = []string{"cloud_storage", "local", "share"}
	frameStep      = regexp.MustCompile(`step\s*=\s*([1-9]\d*)`)
)

func validateDataRequest(req api.DataRequest) error {
	if req.ImageQuality == nil {
		return CodedErrorf(http.StatusBadRequest, "image_quality: This field is required.")
	}
	if *req.ImageQuality < 0 || *req.ImageQuality > 100 {
		return CodedErrorf(http.StatusBadRequest, "image_quality: Ensure this value is between 0 and 100.")
	}
	if req.ChunkSize != nil && *req.ChunkSize <= 0 {
		return CodedErrorf(http.StatusBadRequest, "chunk_size: Chunk size must be a positive integer")
	}
	if req.FrameFilter != "" && !frameStep.MatchString(req.FrameFilter) {
		return CodedErrorf(http.StatusBadRequest, "frame_filter: Invalid frame filter expression")
	}
	if req.StartFrame < 0 {
		return CodedErrorf(http.StatusBadRequest, "start_frame: Ensure this value is greater than or equal to 0.")
	}
	if req.StopFrame != nil && req.StartFrame > *req.StopFrame {
		return CodedErrorf(http.StatusBadRequest, "Stop frame must be more or equal start frame")
	}
	if req.SortingMethod != "" && !slices.Contains(sortingMethods, req.SortingMethod) {
		return CodedErrorf(http.StatusBadRequest, "sorting_method: \"%s\" is not a valid choice.", req.SortingMethod)
	}
	if req.StorageMethod != "" && !slices.Contains(storageMethods, req.StorageMethod) {
		return CodedErrorf(http.StatusBadRequest, "storage_method: \"%s\" is not a valid choice.", req.StorageMethod)
	}
	if req.Storage != "" && !slices.Contains(dataStorages, req.Storage) {
		return CodedErrorf(http.StatusBadRequest, "storage: \"%s\" is not a valid choice.", req.Storage)
	}

	if len(req.JobFileMapping) > 0 && (req.FrameFilter != "" || req.StartFrame != 0 || req.StopFrame != nil) {
		return CodedErrorf(http.StatusBadRequest, "job_file_mapping cannot be combined with frame_filter, start_frame or stop_frame")
	}

	seen := map[string]struct{}{}
	for _, jobFiles := range req.JobFileMapping {
		for _, name := range jobFiles {
			if _, ok := seen[name]; ok {
				return CodedErrorf(http.StatusBadRequest, "job_file_mapping: The same file '%s' cannot be used multiple times in the job file mapping", name)
			}
			seen[name] = struct{}{}
		}
	}
	return nil
}

func splitDigits(s string) []string {
	var parts []string
	start := 0
	for i := 1; i <= len(s); i++ {
		if i == len(s) || unicode.IsDigit(rune(s[i])) != unicode.IsDigit(rune(s[i-1])) {
			parts = append(parts, s[start:i])
			start = i
		}
	}
	return parts
}

// naturalCompare orders names so that embedded numbers compare by value.
func naturalCompare(a, b string) int {
	pa, pb := splitDigits(a), splitDigits(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		if errA == nil && errB == nil {
			if c := cmp.Compare(na, nb); c != 0 {
				return c
			}
			continue
		}
		if c := strings.Compare(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(pa), len(pb))
}

// orderFiles returns the media files of a data in frame order.
func orderFiles(files []string, method string, seed int) []string {
	ordered := slices.Clone(files)
	switch method {
	case SortNatural:
		slices.SortStableFunc(ordered, naturalCompare)
	case SortPredefined:
	case SortRandom:
		rng := rand.New(rand.NewPCG(uint64(seed), 0))
		rng.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
	default:
		slices.Sort(ordered)
	}
	return ordered
}

func frameFilterStep(filter string) int {
	match := frameStep.FindStringSubmatch(filter)
	if match == nil {
		return 1
	}
	step, err := strconv.Atoi(match[1])
	if err != nil || step < 1 {
		return 1
	}
	return step
}

func dataFiles(data database.Data) ([]string, error) {
	var files []string
	for _, column := range []datatypes.JSON{data.ClientFiles, data.ServerFiles, data.RemoteFiles} {
		names, err := fromJSON[[]string](column)
		if err != nil {
			return nil, err
		}
		files = append(files, names...)
	}
	return orderFiles(files, data.SortingMethod, data.Id), nil
}

// frameNames lists the file shown on every frame of data.
func frameNames(data database.Data) ([]string, error) {
	files, err := dataFiles(data)
	if err != nil {
		return nil, err
	}
	step := frameFilterStep(data.FrameFilter)
	names := make([]string, 0, data.Size)
	for i := data.StartFrame; i <= data.StopFrame && i < len(files); i += step {
		names = append(names, files[i])
	}
	return names, nil
}

type segmentRange struct {
	start, stop int
}

// splitSegments cuts size frames into segments of segmentSize frames that
// overlap by at most half a segment. It returns the effective segment size.
func splitSegments(size, segmentSize int, overlap *int) ([]segmentRange, int) {
	if size == 0 {
		return nil, segmentSize
	}
	if segmentSize <= 0 || segmentSize > size {
		segmentSize = size
	}
	shared := 0
	if overlap != nil {
		shared = min(*overlap, segmentSize/2)
	}

	var segments []segmentRange
	for start := 0; start < size-shared; start += segmentSize - shared {
		segments = append(segments, segmentRange{start: start, stop: min(start+segmentSize-1, size-1)})
	}
	return segments, segmentSize
}

func mappingSegments(mapping [][]string) []segmentRange {
	segments := make([]segmentRange, 0, len(mapping))
	start := 0
	for _, jobFiles := range mapping {
		if len(jobFiles) == 0 {
			continue
		}
		segments = append(segments, segmentRange{start: start, stop: start + len(jobFiles) - 1})
		start += len(jobFiles)
	}
	return segments
}

func listOrEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// AttachTaskData registers the media of a task and splits its frames into
// segments, creating one job per segment.
func (s *BackendService) AttachTaskData(r *http.Request) (any, error) {
	taskId, err := URLParamInt(r, "task_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.DataRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateDataRequest(req); err != nil {
		return nil, err
	}

	clientFiles, serverFiles, remoteFiles := listOrEmpty(req.ClientFiles), listOrEmpty(req.ServerFiles), listOrEmpty(req.RemoteFiles)
	sortingMethod := cmp.Or(req.SortingMethod, SortLexicographical)
	if len(req.JobFileMapping) > 0 {
		uploaded := slices.Concat(clientFiles, serverFiles, remoteFiles)
		mapped := slices.Concat(req.JobFileMapping...)
		if len(uploaded) > 0 && !sameFileSet(uploaded, mapped) {
			return nil, CodedErrorf(http.StatusBadRequest, "job_file_mapping: the mapping must use every uploaded file exactly once")
		}
		clientFiles, serverFiles, remoteFiles = mapped, []string{}, []string{}
		sortingMethod = SortPredefined
	}
	if len(clientFiles)+len(serverFiles)+len(remoteFiles) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "No media data found")
	}

	var old, result api.Task
	err = s.transaction(r, func(txn *gorm.DB) error {
		task, err := loadTask(txn, taskId)
		if err != nil {
			return err
		}
		if task.DataId != nil {
			return CodedErrorf(http.StatusBadRequest, "Data has already been attached to task #%d", task.Id)
		}
		if req.CloudStorageId != nil {
			if err := checkCloudStorageExists(txn, *req.CloudStorageId); err != nil {
				return err
			}
		}
		if old, err = convertTask(txn, task); err != nil {
			return err
		}

		data := database.Data{
			ChunkSize:       req.ChunkSize,
			ImageQuality:    *req.ImageQuality,
			StartFrame:      req.StartFrame,
			FrameFilter:     req.FrameFilter,
			StorageMethod:   cmp.Or(req.StorageMethod, "file_system"),
			Storage:         cmp.Or(req.Storage, database.LocationLocal),
			SortingMethod:   sortingMethod,
			FilenamePattern: req.FilenamePattern,
			CloudStorageId:  req.CloudStorageId,
		}
		if req.CloudStorageId != nil {
			data.Storage = database.LocationCloudStorage
		}
		for column, files := range map[*datatypes.JSON][]string{
			&data.ClientFiles: clientFiles, &data.ServerFiles: serverFiles, &data.RemoteFiles: remoteFiles,
		} {
			if *column, err = toJSON(files); err != nil {
				return err
			}
		}
		data.DeletedFrames = datatypes.JSON("[]")
		if err := txn.Create(&data).Error; err != nil {
			return fmt.Errorf("error creating data of task %d: %w", task.Id, err)
		}

		total := len(clientFiles) + len(serverFiles) + len(remoteFiles)
		data.StopFrame = total - 1
		if req.StopFrame != nil {
			data.StopFrame = min(*req.StopFrame, total-1)
		}
		if data.StartFrame > data.StopFrame {
			return CodedErrorf(http.StatusBadRequest, "start_frame: must be less than the number of media files")
		}
		names, err := frameNames(data)
		if err != nil {
			return err
		}
		data.Size = len(names)
		if err := txn.Save(&data).Error; err != nil {
			return fmt.Errorf("error updating data %d: %w", data.Id, err)
		}

		var segments []segmentRange
		if len(req.JobFileMapping) > 0 {
			segments = mappingSegments(req.JobFileMapping)
		} else {
			segments, task.SegmentSize = splitSegments(data.Size, task.SegmentSize, task.Overlap)
		}

		now := time.Now().UTC()
		for _, seg := range segments {
			segment := database.Segment{
				TaskId:     task.Id,
				StartFrame: seg.start,
				StopFrame:  seg.stop,
				Jobs: []database.Job{{
					UpdatedDate: now,
					Status:      database.StatusAnnotation,
					Stage:       database.StageAnnotation,
					State:       database.StateNew,
				}},
			}
			if err := txn.Create(&segment).Error; err != nil {
				return fmt.Errorf("error creating segment of task %d: %w", task.Id, err)
			}
		}

		task.DataId = &data.Id
		task.Mode = database.ModeAnnotation
		task.UpdatedDate = now
		if err := txn.Omit(clause.Associations).Save(&task).Error; err != nil {
			return fmt.Errorf("error updating task %d: %w", task.Id, err)
		}

		slog.Info("task data attached", "task_id", task.Id, "data_id", data.Id, "size", data.Size, "jobs", len(segments))

		if task, err = loadTask(txn, task.Id); err != nil {
			return err
		}
		result, err = convertTask(txn, task)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitUpdated(r, events.ResourceTask, old, result, s.objectContext(r, result.Organization, result.ProjectId, &result.Id, nil))
	return result, nil
}

func sameFileSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func (s *BackendService) loadTaskData(r *http.Request, txn *gorm.DB) (database.Task, error) {
	taskId, err := URLParamInt(r, "task_id")
	if err != nil {
		return database.Task{}, err
	}
	task, err := loadTask(txn, taskId)
	if err != nil {
		return task, err
	}
	if task.Data == nil {
		return task, CodedErrorf(http.StatusNotFound, "task #%d has no data", task.Id)
	}
	return task, nil
}

func convertDataMeta(data database.Data) (api.DataMeta, error) {
	names, err := frameNames(data)
	if err != nil {
		return api.DataMeta{}, err
	}
	deleted, err := fromJSON[[]int](data.DeletedFrames)
	if err != nil {
		return api.DataMeta{}, err
	}
	if deleted == nil {
		deleted = []int{}
	}

	frames := make([]api.FrameMeta, 0, len(names))
	for _, name := range names {
		frames = append(frames, api.FrameMeta{Name: name})
	}
	return api.DataMeta{
		ChunkSize:     data.ChunkSize,
		Size:          data.Size,
		ImageQuality:  data.ImageQuality,
		StartFrame:    data.StartFrame,
		StopFrame:     data.StopFrame,
		FrameFilter:   data.FrameFilter,
		DeletedFrames: deleted,
		Frames:        frames,
	}, nil
}

func (s *BackendService) GetTaskDataMeta(r *http.Request) (any, error) {
	task, err := s.loadTaskData(r, s.db.WithContext(r.Context()))
	if err != nil {
		return nil, err
	}
	return convertDataMeta(*task.Data)
}

func (s *BackendService) PatchTaskDataMeta(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PatchDataMetaRequest](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context())
	task, err := s.loadTaskData(r, txn)
	if err != nil {
		return nil, err
	}

	data := *task.Data
	deleted := slices.Clone(req.DeletedFrames)
	for _, frame := range deleted {
		if frame < 0 || frame >= data.Size {
			return nil, CodedErrorf(http.StatusBadRequest, "deleted_frames: Frame #%d does not exist in the task", frame)
		}
	}
	slices.Sort(deleted)
	deleted = slices.Compact(deleted)

	if data.DeletedFrames, err = toJSON(listOrEmptyInts(deleted)); err != nil {
		return nil, err
	}
	if err := txn.Model(&database.Data{Id: data.Id}).Update("deleted_frames", data.DeletedFrames).Error; err != nil {
		return nil, fmt.Errorf("error updating data meta of task %d: %w", task.Id, err)
	}

	return convertDataMeta(data)
}

func listOrEmptyInts(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}
