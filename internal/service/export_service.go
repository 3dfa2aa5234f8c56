package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoRankings   = errors.New("该阶段暂无排名数据")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response。
// 数据来源与阶段排名接口一致，只有教师、观察者和管理员可以导出。
type ExportService interface {
	// ExportStageRankings 导出阶段排名为 Excel
	ExportStageRankings(ctx context.Context, actor Actor, projectID, stageID string) (*bytes.Buffer, string, error)
}

type exportService struct {
	rankings TeacherRankingService
	members  MembershipLookup
	logger   *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(rankings TeacherRankingService, members MembershipLookup, logger *zap.Logger) ExportService {
	return &exportService{rankings: rankings, members: members, logger: logger}
}

var exportHeaders = []string{"组别", "教师排名", "平均名次", "评分教师数", "提案状态", "投票结果"}

// ═══════════════════════════════════════════════════════════
// ExportStageRankings — 导出阶段排名
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - Sheet "阶段排名"
//   - 第 1 行标题，第 2 行表头，之后每组一行（按教师排名升序）
//   - 无教师排名的小组排在最后，名次列显示 "-"

func (s *exportService) ExportStageRankings(ctx context.Context, actor Actor, projectID, stageID string) (*bytes.Buffer, string, error) {
	v, err := resolveViewer(ctx, s.members, s.logger, actor, projectID)
	if err != nil {
		return nil, "", err
	}
	if !v.canSeeAllGroups() {
		return nil, "", ErrNotAuthorized
	}

	data, err := s.rankings.StageRankings(ctx, actor, projectID, stageID)
	if err != nil {
		return nil, "", err
	}
	if len(data.Groups) == 0 {
		return nil, "", ErrExportNoRankings
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "阶段排名"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	f.SetColWidth(sheetName, "A", "A", 16)
	f.SetColWidth(sheetName, "B", "D", 12)
	f.SetColWidth(sheetName, "E", "F", 14)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 标题行
	f.SetCellValue(sheetName, "A1", fmt.Sprintf("%s / %s 阶段排名（评分教师 %d 人）", projectID, stageID, data.TeacherCount))
	f.MergeCell(sheetName, "A1", cell(colName(len(exportHeaders)-1), 1))
	f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	// 表头
	row := 2
	for i, h := range exportHeaders {
		f.SetCellValue(sheetName, cell(colName(i), row), h)
	}
	f.SetCellStyle(sheetName, cell("A", row), cell(colName(len(exportHeaders)-1), row), headerStyle)

	// 数据行
	row = 3
	for _, g := range data.Groups {
		f.SetCellValue(sheetName, cell("A", row), g.GroupID)
		if g.TeacherRank != nil {
			f.SetCellValue(sheetName, cell("B", row), *g.TeacherRank)
			f.SetCellValue(sheetName, cell("C", row), fmt.Sprintf("%.2f", *g.TeacherMeanRank))
		} else {
			f.SetCellValue(sheetName, cell("B", row), "-")
			f.SetCellValue(sheetName, cell("C", row), "-")
		}
		f.SetCellValue(sheetName, cell("D", row), g.TeacherCount)

		status, result := "-", "-"
		if g.ProposalStats != nil {
			status = proposalStatusLabels[g.ProposalStats.LatestStatus]
			result = votingResultLabels[g.ProposalStats.LatestVotingResult]
		}
		f.SetCellValue(sheetName, cell("E", row), status)
		f.SetCellValue(sheetName, cell("F", row), result)
		row++
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("阶段排名_%s_%s.xlsx", projectID, stageID)
	return buf, filename, nil
}

var proposalStatusLabels = map[string]string{
	"pending":   "待表决",
	"approved":  "已通过",
	"disagreed": "未通过",
	"tied":      "票数持平",
	"reset":     "已重置",
	"withdrawn": "已撤回",
	"settled":   "已定案",
}

var votingResultLabels = map[string]string{
	string(ResultAgree):    "赞成多",
	string(ResultDisagree): "反对多",
	string(ResultTie):      "持平",
	string(ResultNoVotes):  "无投票",
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
