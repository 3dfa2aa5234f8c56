package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func setupTestExportService(t *testing.T) (ExportService, *testEnv) {
	env := setupTestEnv(t)
	return NewExportService(env.rankings, env.collab.Members, zap.NewNop()), env
}

func TestExportService_ExportStageRankings_NoData(t *testing.T) {
	svc, _ := setupTestExportService(t)

	_, _, err := svc.ExportStageRankings(context.Background(), asTeacher(emailTeacher), testProject, testStage)
	if !errors.Is(err, ErrExportNoRankings) {
		t.Errorf("期望 ErrExportNoRankings，实际: %v", err)
	}
}

func TestExportService_ExportStageRankings_Forbidden(t *testing.T) {
	svc, env := setupTestExportService(t)
	env.mustRank(t, emailTeacher, subRank("s-g1", 1))

	for _, a := range []Actor{asStudent(emailAlice), asStudent(emailOutsider)} {
		_, _, err := svc.ExportStageRankings(context.Background(), a, testProject, testStage)
		if !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("%s 期望 ErrNotAuthorized，实际: %v", a.Email, err)
		}
	}
}

func TestExportService_ExportStageRankings_Success(t *testing.T) {
	svc, env := setupTestExportService(t)
	env.mustRank(t, emailTeacher, subRank("s-g2", 1), subRank("s-g1", 2))
	id := env.mustSubmit(t, emailDan, "s-g1")
	env.mustVote(t, emailDan, id, 1)
	env.mustVote(t, emailErin, id, -1)

	buf, filename, err := svc.ExportStageRankings(context.Background(), asStudent(emailObserver), testProject, testStage)
	if err != nil {
		t.Fatalf("导出应成功: %v", err)
	}
	if !strings.HasSuffix(filename, ".xlsx") || !strings.Contains(filename, testStage) {
		t.Errorf("文件名不符: %s", filename)
	}

	f, err := excelize.OpenReader(buf)
	if err != nil {
		t.Fatalf("导出内容应为合法 xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("阶段排名")
	if err != nil {
		t.Fatalf("应包含阶段排名工作表: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("期望标题 + 表头 + 3 行数据，实际: %d", len(rows))
	}
	if rows[1][0] != "组别" || rows[1][5] != "投票结果" {
		t.Errorf("表头不符: %v", rows[1])
	}
	if rows[2][0] != "g2" || rows[2][1] != "1" || rows[2][2] != "1.00" {
		t.Errorf("第一行应为 g2，实际: %v", rows[2])
	}
	if rows[3][0] != "g1" {
		t.Errorf("第二行应为 g1，实际: %v", rows[3])
	}
	// 无教师排名的小组排在最后
	last := rows[4]
	if last[0] != "g3" || last[1] != "-" || last[4] != "票数持平" || last[5] != "持平" {
		t.Errorf("g3 行不符: %v", last)
	}
}
