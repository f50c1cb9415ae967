package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hitoshi/votebox/internal/model"
)

// ImportSummary はCSV取り込みの結果を表す。
type ImportSummary struct {
	Imported int
	Skipped  int
	Failed   int
}

// ImportCSV は移行元システムの動画一覧をCSVから取り込む。
//
// 先頭行をヘッダーとして解釈し、title列は必須、source_id、description、
// thumbnail_url列は任意。source_idが既に登録済みの行はスキップする（冪等）。
// 取り込んだ動画は即座にready状態で公開される。
// 行単位のエラーは記録して処理を継続し、最後にサマリを返す。
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*ImportSummary, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("CSVヘッダーの読み取りに失敗しました: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	titleIdx, ok := cols["title"]
	if !ok {
		return nil, fmt.Errorf("CSVにtitle列がありません")
	}

	field := func(record []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	summary := &ImportSummary{}
	line := 1

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			slog.Warn("skipping malformed CSV record",
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			summary.Failed++
			continue
		}

		if titleIdx >= len(record) || strings.TrimSpace(record[titleIdx]) == "" {
			slog.Warn("skipping CSV record without title", slog.Int("line", line))
			summary.Failed++
			continue
		}

		sourceID := field(record, "source_id")
		if sourceID != "" {
			existing, err := s.videoRepo.FindByRef(ctx, sourceID)
			if err != nil {
				return summary, fmt.Errorf("既存動画の確認に失敗しました: %w", err)
			}
			if existing != nil {
				summary.Skipped++
				continue
			}
		}

		video, err := s.Register(ctx, RegisterInput{
			Title:        record[titleIdx],
			Description:  field(record, "description"),
			SourceID:     sourceID,
			ThumbnailURL: field(record, "thumbnail_url"),
		})
		if err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeDuplicateVideo {
				summary.Skipped++
				continue
			}
			return summary, fmt.Errorf("動画の取り込みに失敗しました（%d行目）: %w", line, err)
		}

		if err := s.MarkReady(ctx, video.ID); err != nil {
			return summary, fmt.Errorf("取り込んだ動画の公開に失敗しました（%d行目）: %w", line, err)
		}

		summary.Imported++
	}

	slog.Info("CSV import completed",
		slog.Int("imported", summary.Imported),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)

	return summary, nil
}
