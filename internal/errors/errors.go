// Package errors provides centralized error handling with categorization,
// component detection, and optional telemetry integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrorCategory groups errors for logging, metrics, and containment policy.
type ErrorCategory string

// CategorizedError lets sentinel errors carry their own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	// Domain categories. Measurement failures degrade analyzer output,
	// validation failures reject input, conflict failures block job
	// construction, job failures stay inside the queue.
	CategoryMeasurement ErrorCategory = "measurement"
	CategoryValidation  ErrorCategory = "validation"
	CategoryConflict    ErrorCategory = "parameter-conflict"
	CategoryJob         ErrorCategory = "job-execution"
	CategorySystem      ErrorCategory = "system-resource"

	// Operational categories.
	CategoryFileIO           ErrorCategory = "file-io"
	CategoryCommandExecution ErrorCategory = "command-execution"
	CategoryParsing          ErrorCategory = "output-parsing"
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryCancellation     ErrorCategory = "cancellation"
	CategoryJobQueue         ErrorCategory = "job-queue"
	CategoryNormalization    ErrorCategory = "normalization"
	CategoryDelivery         ErrorCategory = "delivery"
	CategoryUpload           ErrorCategory = "upload"
	CategoryCatalog          ErrorCategory = "catalog-validation"
	CategoryMetadata         ErrorCategory = "metadata"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryNetwork          ErrorCategory = "network"
	CategoryNotFound         ErrorCategory = "not-found"
	CategoryState            ErrorCategory = "state"
	CategoryBroadcast        ErrorCategory = "broadcast"
	CategoryNotification     ErrorCategory = "notification"
	CategoryGeneric          ErrorCategory = "generic"
)

// Priority values for explicit error prioritization.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with component, category, and context data.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Priority  string
	Context   map[string]any
	Timestamp time.Time

	component string
	detected  bool
	reported  bool
	mu        sync.RWMutex
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches two enhanced errors by category, otherwise defers to the chain.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the component name, detecting it lazily from the
// call stack recorded at Build time if none was set.
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	if ee.detected || ee.component != "" {
		component := ee.component
		ee.mu.RUnlock()
		return component
	}
	ee.mu.RUnlock()

	ee.mu.Lock()
	defer ee.mu.Unlock()
	if ee.component == "" && !ee.detected {
		ee.component = detectComponent()
		ee.detected = true
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
	}
	return ee.component
}

// GetCategory returns the category as a string.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority, empty when unset.
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(ee.Context))
	maps.Copy(cp, ee.Context)
	return cp
}

// GetTimestamp returns when the error was built.
func (ee *EnhancedError) GetTimestamp() time.Time {
	return ee.Timestamp
}

// GetMessage returns the underlying error message.
func (ee *EnhancedError) GetMessage() string {
	if ee.Err != nil {
		return ee.Err.Error()
	}
	return ""
}

// MarkReported records that telemetry has seen this error.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported reports whether telemetry has seen this error.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building an enhanced error around a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected when unset).
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit priority. Invalid values fall back to medium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	default:
		if priority != "" {
			eb.priority = PriorityMedium
		}
	}
	return eb
}

func (eb *ErrorBuilder) ctx() map[string]any {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	return eb.context
}

// Context attaches a key/value pair to the error.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	eb.ctx()[key] = value
	return eb
}

// FileContext attaches anonymized file information. Full paths never leave
// the process through telemetry.
func (eb *ErrorBuilder) FileContext(filePath string, fileSize int64) *ErrorBuilder {
	if filePath != "" {
		eb.ctx()["file_extension"] = fileExtension(filePath)
		eb.ctx()["path_kind"] = pathKind(filePath)
	}
	if fileSize > 0 {
		eb.ctx()["file_size_category"] = fileSizeCategory(fileSize)
	}
	return eb
}

// ToolContext attaches external tool invocation details.
func (eb *ErrorBuilder) ToolContext(tool string, exitCode int) *ErrorBuilder {
	if tool != "" {
		eb.ctx()["tool"] = tool
	}
	eb.ctx()["exit_code"] = exitCode
	return eb
}

// Timing attaches operation timing to the error.
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.ctx()["operation"] = operation
	eb.ctx()["duration_ms"] = duration.Milliseconds()
	return eb
}

// Build finalizes the enhanced error and reports it to telemetry when a
// reporter is active.
func (eb *ErrorBuilder) Build() *EnhancedError {
	// Cheap path when nothing consumes reports: skip stack walking.
	if !hasActiveReporting.Load() {
		ee := &EnhancedError{
			Err:       eb.err,
			Category:  eb.category,
			Priority:  eb.priority,
			Context:   eb.context,
			Timestamp: time.Now(),
			component: eb.component,
			detected:  eb.component != "",
		}
		if ee.component == "" {
			ee.component = ComponentUnknown
			ee.detected = true
		}
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		return ee
	}

	if eb.component == "" {
		eb.component = detectComponent()
	}
	if eb.category == "" {
		eb.category = detectCategory(eb.err, eb.component)
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
		detected:  true,
	}

	reportToTelemetry(ee)
	return ee
}

// Component registry for call-stack based component detection.
var (
	componentRegistry = make(map[string]string)
	registryMutex     sync.RWMutex
)

// RegisterComponent registers a package path pattern with a component name.
func RegisterComponent(packagePattern, componentName string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	componentRegistry[packagePattern] = componentName
}

func init() {
	RegisterComponent("internal/ffmpeg", "ffmpeg")
	RegisterComponent("internal/normalize", "normalize")
	RegisterComponent("internal/analyzer", "analyzer")
	RegisterComponent("internal/classify", "classify")
	RegisterComponent("internal/conflict", "conflict")
	RegisterComponent("internal/jobqueue", "jobqueue")
	RegisterComponent("internal/delivery", "delivery")
	RegisterComponent("internal/catalog", "catalog")
	RegisterComponent("internal/events", "events")
	RegisterComponent("internal/notify", "notify")
	RegisterComponent("internal/conf", "configuration")
	RegisterComponent("internal/observability", "observability")
}

const ownPackagePath = "github.com/audiolens/masterqc/internal/errors"

func quickComponentLookup(depth int) string {
	pc, _, _, ok := runtime.Caller(depth)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	funcName := fn.Name()
	if strings.Contains(funcName, ownPackagePath) {
		return ""
	}
	return lookupComponent(funcName)
}

// detectComponent walks likely caller depths first, then the full stack.
func detectComponent() string {
	for _, depth := range []int{4, 5, 6, 7} {
		if component := quickComponentLookup(depth); component != "" && component != ComponentUnknown {
			return component
		}
	}
	return detectComponentFull()
}

func detectComponentFull() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	if n == len(pcs) {
		pcs = make([]uintptr, 32)
		n = runtime.Callers(2, pcs)
	}

	for i := range n {
		fn := runtime.FuncForPC(pcs[i])
		if fn == nil {
			continue
		}
		funcName := fn.Name()
		if strings.Contains(funcName, ownPackagePath) {
			continue
		}
		if component := lookupComponent(funcName); component != ComponentUnknown {
			return component
		}
	}
	return ComponentUnknown
}

func lookupComponent(funcName string) string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	for pattern, component := range componentRegistry {
		if strings.Contains(funcName, pattern) {
			return component
		}
	}

	// Fallback: last path element up to the first dot is the package name.
	parts := strings.Split(funcName, "/")
	if len(parts) > 0 {
		lastPart := parts[len(parts)-1]
		if dotIndex := strings.Index(lastPart, "."); dotIndex > 0 {
			return lastPart[:dotIndex]
		}
	}
	return ComponentUnknown
}

// detectCategory infers a category from the error chain and message.
func detectCategory(err error, component string) ErrorCategory {
	var catErr CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.ErrorCategory()
	}
	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.Category != "" {
		return enhErr.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "cancelled"):
		return CategoryCancellation
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return CategoryTimeout
	case strings.Contains(msg, "exit status") || strings.Contains(msg, "executable"):
		return CategoryCommandExecution
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal"):
		return CategoryParsing
	case strings.Contains(msg, "conflict"):
		return CategoryConflict
	case strings.Contains(msg, "upload"):
		return CategoryUpload
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "permission denied") || strings.Contains(msg, "file"):
		return CategoryFileIO
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation") || strings.Contains(msg, "out of range"):
		return CategoryValidation
	}

	switch component {
	case "ffmpeg":
		return CategoryMeasurement
	case "jobqueue":
		return CategoryJobQueue
	case "delivery":
		return CategoryDelivery
	case "conflict":
		return CategoryConflict
	case "normalize":
		return CategoryNormalization
	case "catalog":
		return CategoryCatalog
	case "configuration":
		return CategoryConfiguration
	}
	return CategoryGeneric
}

func pathKind(path string) string {
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		return "absolute-path"
	}
	return "relative-path"
}

func fileExtension(path string) string {
	if lastDot := strings.LastIndex(path, "."); lastDot > 0 && lastDot < len(path)-1 {
		return strings.ToLower(path[lastDot+1:])
	}
	return "none"
}

func fileSizeCategory(size int64) string {
	switch {
	case size < 1024:
		return "tiny"
	case size < 1024*1024:
		return "small"
	case size < 100*1024*1024:
		return "medium"
	case size < 1024*1024*1024:
		return "large"
	default:
		return "very-large"
	}
}

// Convenience constructors.

// Wrap is an alias for New for call-site readability.
func Wrap(err error) *ErrorBuilder {
	return New(err)
}

// FileError builds a file I/O error with anonymized file context.
func FileError(err error, filePath string, fileSize int64) *EnhancedError {
	return New(err).
		Category(CategoryFileIO).
		FileContext(filePath, fileSize).
		Build()
}

// ToolError builds a command-execution error for an external tool run.
func ToolError(err error, tool string, exitCode int) *EnhancedError {
	return New(err).
		Category(CategoryCommandExecution).
		ToolContext(tool, exitCode).
		Build()
}

// ValidationError builds a validation error from a plain message.
func ValidationError(message string) *EnhancedError {
	return New(NewStd(message)).
		Category(CategoryValidation).
		Build()
}

// Standard library passthroughs so this package is a drop-in replacement.

// NewStd creates a plain error.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree matching target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap calls the Unwrap method on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join wraps the given errors into one.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks whether err is an EnhancedError with the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// IsNotFound checks for CategoryNotFound, used for expected missing
// resources like unknown jobs or platforms.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// IsTimeout checks for CategoryTimeout.
func IsTimeout(err error) bool {
	return IsCategory(err, CategoryTimeout)
}
