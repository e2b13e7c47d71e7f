// ABOUTME: Compound user removal: enumerate media, delete it best-effort, then deactivate
// ABOUTME: Media deletions run concurrently; individual failures lower the count but never abort

package matrixadmin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
	"maunium.net/go/mautrix/synapseadmin"
)

// RemoveStage is the last stage a removal reached.
type RemoveStage string

const (
	StageListingMedia  RemoveStage = "listing_media"
	StageDeletingMedia RemoveStage = "deleting_media"
	StageDeactivating  RemoveStage = "deactivating"
	StageDone          RemoveStage = "done"
)

// RemoveResult describes the outcome of RemoveUser. It is returned even when
// RemoveUser fails, so callers can report media that was already deleted.
type RemoveResult struct {
	UserID       id.UserID
	Stage        RemoveStage
	MediaFound   int
	MediaDeleted int
	Deactivated  bool
	// IDServerUnbindResult is the server's id_server_unbind_result, if reported.
	IDServerUnbindResult string
}

type mediaListResponse struct {
	Media []struct {
		MediaID string `json:"media_id"`
	} `json:"media"`
	NextToken Cursor `json:"next_token"`
}

type deactivateResponse struct {
	IDServerUnbindResult string `json:"id_server_unbind_result"`
}

// RemoveUser deletes every media item uploaded by userID and then deactivates
// the account with erase set.
//
// A failure to list media aborts before anything is changed. Failed media
// deletions are logged and skipped. A failed deactivation is returned with a
// result whose MediaDeleted reflects what was already removed and whose
// Deactivated is false.
func (c *Client) RemoveUser(ctx context.Context, creds Credentials, userID id.UserID) (*RemoveResult, error) {
	result := &RemoveResult{UserID: userID, Stage: StageListingMedia}

	serverName, err := ServerName(userID)
	if err != nil {
		return result, err
	}

	api, err := c.session(OpListMedia, creds.BaseURL, creds.AccessToken)
	if err != nil {
		return result, err
	}

	mediaIDs, err := c.listMedia(ctx, api, userID)
	if err != nil {
		return result, err
	}
	result.MediaFound = len(mediaIDs)

	result.Stage = StageDeletingMedia
	result.MediaDeleted = c.deleteMedia(ctx, api, userID, serverName, mediaIDs)

	result.Stage = StageDeactivating
	status, body, err := c.exchange(ctx, api, request{
		op:     OpDeactivate,
		method: http.MethodPost,
		url:    api.BuildAdminURL("v1", "deactivate", userID),
		body:   synapseadmin.ReqDeleteUser{Erase: true},
	})
	if err != nil {
		err = classify(OpDeactivate, status, body, err, "request failed")
		c.logger.Warn("deactivation failed after media cleanup",
			"user_id", userID.String(),
			"media_deleted", result.MediaDeleted,
			"error", err,
		)
		return result, err
	}

	var resp deactivateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Debug("ignoring unparseable deactivate response", "user_id", userID.String(), "error", err)
	}
	result.IDServerUnbindResult = resp.IDServerUnbindResult
	result.Deactivated = true
	result.Stage = StageDone

	c.logger.Info("removed user",
		"user_id", userID.String(),
		"media_found", result.MediaFound,
		"media_deleted", result.MediaDeleted,
	)
	return result, nil
}

// listMedia enumerates the IDs of all media uploaded by userID, following
// next_token until the server reports no more pages.
func (c *Client) listMedia(ctx context.Context, api *synapseadmin.Client, userID id.UserID) ([]string, error) {
	var mediaIDs []string
	var from Cursor
	for {
		query := map[string]string{}
		if from != "" {
			query["from"] = string(from)
		}

		var page mediaListResponse
		_, err := c.call(ctx, api, request{
			op:       OpListMedia,
			method:   http.MethodGet,
			url:      api.Client.BuildURLWithQuery(mautrix.SynapseAdminURLPath{"v1", "users", userID, "media"}, query),
			response: &page,
			fallback: "failed to list media",
		})
		if err != nil {
			var apiErr *Error
			if errors.As(err, &apiErr) && apiErr.Kind == KindUnreachable {
				apiErr.Message = "cannot reach server to list media"
			}
			return nil, err
		}

		for _, m := range page.Media {
			if m.MediaID != "" {
				mediaIDs = append(mediaIDs, m.MediaID)
			}
		}

		if page.NextToken == "" || page.NextToken == from || len(page.Media) == 0 {
			return mediaIDs, nil
		}
		from = page.NextToken
	}
}

// deleteMedia issues one DELETE per media ID with bounded concurrency and
// returns how many succeeded.
func (c *Client) deleteMedia(ctx context.Context, api *synapseadmin.Client, userID id.UserID, serverName string, mediaIDs []string) int {
	var deleted atomic.Int64
	var group errgroup.Group
	group.SetLimit(c.mediaConcurrency)

	for _, mediaID := range mediaIDs {
		group.Go(func() error {
			_, err := c.call(ctx, api, request{
				op:       OpDeleteMedia,
				method:   http.MethodDelete,
				url:      api.BuildAdminURL("v1", "media", serverName, mediaID),
				fallback: "failed to delete media",
			})
			if err != nil {
				c.logger.Warn("skipping media that could not be deleted",
					"user_id", userID.String(),
					"media_id", mediaID,
					"error", err,
				)
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	_ = group.Wait()

	return int(deleted.Load())
}
