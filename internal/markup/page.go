// Package markup はポータルが描画するHTMLからの読み取り操作を提供する。
//
// ポータルにはAPIが無く、状態はすべて描画済みマークアップから回収する。
// スクレイピングの脆さをこのパッケージに閉じ込めることで、
// プロトコル層は固定のサンプルHTMLに対してテストできる。
package markup

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/k2on/ak-scheduler/internal/model"
)

// bookedClassPrefix は予約済みコンテナのクラス名に埋め込まれる
// 予約IDのプレフィックス（例: bookedAppt-4521）。
const bookedClassPrefix = "bookedAppt-"

// filterSuffix はフィルタselect要素のID接尾辞（例: date-filter）。
const filterSuffix = "-filter"

// BookedEntry は予約済みコンテナ1件から読み取ったテキストフィールドを表す。
// コンテナには表示名しか載らないため、種別・担当者のIDは
// 呼び出し元がラベル逆引きで回収する。
type BookedEntry struct {
	ID          string // クラス名 bookedAppt-<id> から回収した予約ID
	Date        string // .bookedDate （2006-01-02 形式）
	TimeRange   string // .bookedTime （15:04 - 15:04 形式）
	TypeName    string // .bookedType （予約種別の表示名）
	TrainerName string // .bookedTrainer （担当者の表示名）
}

// Page は描画済みHTML1ページへの読み取りアダプタ。
type Page struct {
	doc *goquery.Document
}

// Parse はHTMLを読み込んでPageを生成する。
func Parse(r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return &Page{doc: doc}, nil
}

// ParseString は文字列のHTMLからPageを生成する。テストや小さな応答向け。
func ParseString(html string) (*Page, error) {
	return Parse(strings.NewReader(html))
}

// FieldValue は指定IDの要素のvalue属性を返す。
// 要素が無い、またはvalue属性が無い場合は空文字列を返す。
func (p *Page) FieldValue(id string) string {
	return p.doc.Find("#" + id).AttrOr("value", "")
}

// Options は指定名のフィルタ（<select id="<name>-filter">）の
// option要素からOptionSetを構築する。
// value="-1" のプレースホルダは除外し、ラベルは前後の空白を取り除く。
func (p *Page) Options(name string) model.OptionSet {
	var options model.OptionSet

	p.doc.Find("#" + name + filterSuffix).ChildrenFiltered("option").Each(func(_ int, s *goquery.Selection) {
		value, ok := s.Attr("value")
		if !ok || value == model.SentinelOptionValue {
			return
		}
		options = append(options, model.OptionEntry{
			ID:    value,
			Label: strings.TrimSpace(s.Text()),
		})
	})

	return options
}

// BookedEntries は .bookedContainer 配下の予約済みコンテナを列挙する。
// クラス名から予約IDを回収できないコンテナはスキップされる
// （IDの無い予約はキャンセルできず、後続処理で扱いようがない）。
func (p *Page) BookedEntries() []BookedEntry {
	var entries []BookedEntry

	p.doc.Find(".bookedContainer").ChildrenFiltered("div").Each(func(_ int, s *goquery.Selection) {
		id := bookedIDFromClass(s.AttrOr("class", ""))
		if id == "" {
			return
		}
		entries = append(entries, BookedEntry{
			ID:          id,
			Date:        strings.TrimSpace(s.Find(".bookedDate").First().Text()),
			TimeRange:   strings.TrimSpace(s.Find(".bookedTime").First().Text()),
			TypeName:    strings.TrimSpace(s.Find(".bookedType").First().Text()),
			TrainerName: strings.TrimSpace(s.Find(".bookedTrainer").First().Text()),
		})
	})

	return entries
}

// bookedIDFromClass はクラス属性から bookedAppt-<id> のIDを取り出す。
func bookedIDFromClass(class string) string {
	for _, c := range strings.Fields(class) {
		if strings.HasPrefix(c, bookedClassPrefix) {
			return strings.TrimPrefix(c, bookedClassPrefix)
		}
	}
	return ""
}
