// Package claim は動画のオーナーシップクレームを確立するワークフローを提供する。
// ワークフローはローカル状態を一切持たず、外部パートナーAPIへの変更操作のみを行う。
// 既存クレームの確認が先頭にあるため、同じ動画に対して安全に再実行できる。
package claim

import (
	"context"
	"fmt"
	"log/slog"
)

// Outcome はワークフロー1回分の終端状態を表す。
type Outcome string

const (
	// OutcomeAlreadyClaimed はアクティブなクレームが既に存在したことを示す（成功扱い）。
	OutcomeAlreadyClaimed Outcome = "already_claimed"
	// OutcomeClaimed は新規クレームの確立と収益化設定が完了したことを示す。
	OutcomeClaimed Outcome = "claimed"
	// OutcomeVideoNotFound は動画メタデータが取得できなかったことを示す。
	// 業務上ありうる結果であり、外部呼び出しの失敗とは区別される。
	OutcomeVideoNotFound Outcome = "video_not_found"
	// OutcomeFailed は外部呼び出しがいずれかのステップで失敗したことを示す。
	OutcomeFailed Outcome = "failed"
)

// Result はワークフロー1回分の結果。永続化されず、集計のみに使われる。
type Result struct {
	VideoID string
	Outcome Outcome
	ClaimID string
	Step    string // Failedの場合に失敗したステップ名
	Err     error
}

// ワークフローのステップ名。ログとResult.Stepで使用する。
const (
	stepCheckExistingClaim = "check_existing_claim"
	stepFetchVideo         = "fetch_video_metadata"
	stepCreateAsset        = "create_asset"
	stepSetOwnership       = "set_ownership"
	stepFileClaim          = "file_claim"
	stepSetMonetization    = "set_monetization"
)

// Video はパートナーAPIから取得した動画メタデータ。
type Video struct {
	ID          string
	Title       string
	Description string
}

// Policy はクレームに適用するポリシー。IDを持つ既存ポリシーの参照か、
// Rulesによるインラインポリシーのどちらかになる。
type Policy struct {
	ID    string
	Rules []PolicyRule
}

// PolicyRule はインラインポリシーの1ルール。
type PolicyRule struct {
	Action string
}

// PolicyInfo はパートナーのポリシー一覧の1項目。
type PolicyInfo struct {
	ID   string
	Name string
}

// PartnerAPI はワークフローが必要とする外部パートナーAPIのインターフェース。
type PartnerAPI interface {
	// FindClaimStatuses は動画に紐づくクレームのステータス一覧を返す。
	FindClaimStatuses(ctx context.Context, videoID string) ([]string, error)
	// FetchVideo は動画メタデータを取得する。見つからない場合はnilを返す。
	FetchVideo(ctx context.Context, videoID string) (*Video, error)
	// CreateAsset はwebアセットを作成してIDを返す。
	CreateAsset(ctx context.Context, title, description string) (string, error)
	// SetOwnership はアセットのオーナーシップを設定する。
	SetOwnership(ctx context.Context, assetID string) error
	// FileClaim はアセットと動画を紐づけるクレームを作成してIDを返す。
	FileClaim(ctx context.Context, assetID, videoID string, policy Policy) (string, error)
	// SetMonetizationOptions は動画の広告フォーマットを有効化する。
	SetMonetizationOptions(ctx context.Context, videoID string) error
	// ListPolicies はコンテンツオーナーのポリシー一覧を返す。
	ListPolicies(ctx context.Context) ([]PolicyInfo, error)
}

// monetizeAllPolicyName はフォールバック検索で名前一致させるポリシー名。
const monetizeAllPolicyName = "Monetize in all countries"

// Workflow はオーナーシップクレームの逐次ワークフロー。
//
//	CheckExistingClaim → FetchVideoMetadata → CreateAsset →
//	SetOwnership → FileClaim → SetMonetization
//
// いずれかの外部呼び出しが失敗した時点でFailedに遷移して終了する。
// 内部リトライは行わない。再実行は呼び出し元の責務であり、
// 既にクレーム済みならAlreadyClaimedで短絡するため冪等に再実行できる。
type Workflow struct {
	api             PartnerAPI
	logger          *slog.Logger
	defaultPolicyID string
}

// NewWorkflow はWorkflowの新しいインスタンスを生成する。
// defaultPolicyIDは設定済みポリシーID（空の場合はポリシー一覧からの名前検索、
// 最終手段としてインラインの収益化ルールにフォールバックする）。
func NewWorkflow(api PartnerAPI, logger *slog.Logger, defaultPolicyID string) *Workflow {
	return &Workflow{
		api:             api,
		logger:          logger,
		defaultPolicyID: defaultPolicyID,
	}
}

// Apply は設定済みのポリシー解決チェーンで動画のクレームを確立する。
func (w *Workflow) Apply(ctx context.Context, videoID string) Result {
	return w.ApplyWithPolicy(ctx, videoID, "")
}

// ApplyWithPolicy は明示的なポリシーIDを最優先にしてワークフローを実行する。
// policyIDが空の場合は設定済みデフォルト → 名前一致検索 → インラインルールの順に解決する。
func (w *Workflow) ApplyWithPolicy(ctx context.Context, videoID, policyID string) Result {
	// CheckExistingClaim
	statuses, err := w.api.FindClaimStatuses(ctx, videoID)
	if err != nil {
		return w.failure(videoID, stepCheckExistingClaim, err)
	}
	if hasActiveClaim(statuses) {
		w.logger.Info("動画には既にアクティブなクレームが存在します",
			slog.String("video_id", videoID),
		)
		return Result{VideoID: videoID, Outcome: OutcomeAlreadyClaimed}
	}

	// FetchVideoMetadata
	video, err := w.api.FetchVideo(ctx, videoID)
	if err != nil {
		return w.failure(videoID, stepFetchVideo, err)
	}
	if video == nil {
		w.logger.Warn("動画メタデータが見つかりませんでした",
			slog.String("video_id", videoID),
		)
		return Result{VideoID: videoID, Outcome: OutcomeVideoNotFound}
	}

	// CreateAsset
	assetID, err := w.api.CreateAsset(ctx, video.Title, video.Description)
	if err != nil {
		return w.failure(videoID, stepCreateAsset, err)
	}
	w.logger.Info("アセットを作成しました",
		slog.String("video_id", videoID),
		slog.String("asset_id", assetID),
	)

	// SetOwnership
	if err := w.api.SetOwnership(ctx, assetID); err != nil {
		return w.failure(videoID, stepSetOwnership, err)
	}

	// FileClaim
	policy, err := w.resolvePolicy(ctx, policyID)
	if err != nil {
		return w.failure(videoID, stepFileClaim, err)
	}
	claimID, err := w.api.FileClaim(ctx, assetID, videoID, policy)
	if err != nil {
		return w.failure(videoID, stepFileClaim, err)
	}
	w.logger.Info("クレームを作成しました",
		slog.String("video_id", videoID),
		slog.String("claim_id", claimID),
	)

	// SetMonetization
	if err := w.api.SetMonetizationOptions(ctx, videoID); err != nil {
		return w.failure(videoID, stepSetMonetization, err)
	}

	w.logger.Info("動画のクレームが完了しました",
		slog.String("video_id", videoID),
		slog.String("claim_id", claimID),
	)

	return Result{VideoID: videoID, Outcome: OutcomeClaimed, ClaimID: claimID}
}

// resolvePolicy はクレームに適用するポリシーを優先順で解決する:
//  1. 明示的に指定されたポリシーID
//  2. 設定済みデフォルトポリシーID
//  3. ポリシー一覧から「Monetize in all countries」の名前一致
//  4. 最終手段としてインラインの収益化ルール
func (w *Workflow) resolvePolicy(ctx context.Context, explicitID string) (Policy, error) {
	if explicitID != "" {
		return Policy{ID: explicitID}, nil
	}
	if w.defaultPolicyID != "" {
		return Policy{ID: w.defaultPolicyID}, nil
	}

	policies, err := w.api.ListPolicies(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("ポリシー一覧の取得に失敗しました: %w", err)
	}
	for _, p := range policies {
		if p.Name == monetizeAllPolicyName {
			return Policy{ID: p.ID}, nil
		}
	}

	return Policy{Rules: []PolicyRule{{Action: "monetize"}}}, nil
}

// hasActiveClaim はinactive以外のステータスを持つクレームがあるかを返す。
func hasActiveClaim(statuses []string) bool {
	for _, s := range statuses {
		if s != "inactive" {
			return true
		}
	}
	return false
}

// failure は外部呼び出し失敗をログに記録してFailed結果を返す。
func (w *Workflow) failure(videoID, step string, err error) Result {
	w.logger.Error("クレームワークフローのステップが失敗しました",
		slog.String("video_id", videoID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return Result{VideoID: videoID, Outcome: OutcomeFailed, Step: step, Err: err}
}
