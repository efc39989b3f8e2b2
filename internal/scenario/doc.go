// Package scenario は負荷テストのシナリオ実行機能を提供する。
//
// シナリオエンジンはバックエンド、ワークロード、テスト実行（testrun）を
// 連携させ、ランプアップと定常状態の計測ウィンドウを順に進める。
//
// # 機能
//
// - シナリオ定義と実行
// - 定義済みプリセットシナリオ
// - 実行結果のレポート生成
//
// # 実行の流れ
//
// 1. バックエンドを開き、ワークロードからセレクタを作る
// 2. ストレッサーを起動し、RampUp の間は記録せずに負荷をかける
// 3. Duration ごとの定常状態を Iterations 回繰り返す
// 4. ストレッサーを停止し、記録された統計を1つにまとめる
//
// # プリセットシナリオ
//
// - basic: GET/PUT/REMOVE の単純な負荷
// - transactional: コミットで終わるトランザクション
// - rollback: ロールバックで終わるトランザクション
// - async: Executor 上で進む非同期会話
// - elastic: 待機中のストレッサーが減ると追加する
// - latency: 遅延を入れたバックエンド
// - quick: 短時間の動作確認
//
// # 使用例
//
//	config := scenario.TransactionalScenario()
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
