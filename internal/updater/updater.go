// Package updater checks the node's release feed. Updates are staged, not
// executed in-process: the node runs unattended at a pitch and an update
// must never interrupt a recording.
package updater

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/traloxolcus/soccer-rig/pkg/api/rigcam"
	"github.com/traloxolcus/soccer-rig/pkg/logging"
	"github.com/traloxolcus/soccer-rig/pkg/version"
)

const checkTimeout = 3 * time.Second

// Updater consults the GitHub releases feed for the configured repository.
// baseURL is swappable for tests.
type Updater struct {
	repo    string
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

// New builds an Updater for a "owner/repo" release feed.
func New(repo string, logger logging.Logger) *Updater {
	return NewWithBaseURL(repo, "https://api.github.com", logger)
}

// NewWithBaseURL builds an Updater against an alternate feed endpoint.
func NewWithBaseURL(repo, baseURL string, logger logging.Logger) *Updater {
	return &Updater{
		repo:    repo,
		baseURL: baseURL,
		client:  &http.Client{Timeout: checkTimeout},
		logger:  logger,
	}
}

type release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
}

// Check compares the running version against the latest published release.
// Feed problems degrade to can_update=false with a message, never an error;
// an unreachable feed must not break the operator surface.
func (u *Updater) Check() *rigcam.UpdateCheckResponse {
	resp := &rigcam.UpdateCheckResponse{CurrentVersion: version.Version}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", u.baseURL, u.repo)
	httpResp, err := u.client.Get(url)
	if err != nil {
		resp.Message = fmt.Sprintf("update check failed: %v", err)
		return resp
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		resp.Message = fmt.Sprintf("github returned %d", httpResp.StatusCode)
		return resp
	}

	var rel release
	if err := json.NewDecoder(httpResp.Body).Decode(&rel); err != nil {
		resp.Message = fmt.Sprintf("update check failed: %v", err)
		return resp
	}

	latest := rel.TagName
	if latest == "" {
		latest = rel.Name
	}
	if latest == "" || latest == version.Version {
		resp.Message = "already current"
		return resp
	}

	resp.AvailableVersion = latest
	resp.CanUpdate = true
	resp.Message = "new release available"
	return resp
}

// Apply stages an update. Refused while a recording is in flight; the
// actual fetch, checksum verification and service restart are handled by
// the provisioning layer once staging is acknowledged.
func (u *Updater) Apply(recordingActive bool) *rigcam.UpdateApplyResponse {
	if recordingActive {
		return &rigcam.UpdateApplyResponse{
			Started: false,
			Message: "Recording in progress; cannot update",
		}
	}

	check := u.Check()
	if !check.CanUpdate || check.AvailableVersion == "" {
		msg := check.Message
		if msg == "" {
			msg = "Already on latest release"
		}
		return &rigcam.UpdateApplyResponse{Started: false, Message: msg}
	}

	u.logger.WithField("version", check.AvailableVersion).Info("Update staged")
	return &rigcam.UpdateApplyResponse{
		Started:        true,
		Message:        "Update download staged. Release will be fetched, verified and services restarted.",
		AppliedVersion: check.AvailableVersion,
	}
}
