package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"exam-flash/internal/alignment"
	"exam-flash/internal/chunker"
	"exam-flash/internal/flashcards"
	"exam-flash/internal/models"
	"exam-flash/internal/services"
	"exam-flash/internal/structure"
)

func newDetectCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Detect question or answer starts in a document",
		Long: `Detect scans every line of a document with the pattern registry and
reports each question start (--kind question) or answer start (--kind answer)
with its page, line, pattern and confidence.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			k := structure.Kind(kind)
			if k != structure.KindQuestion && k != structure.KindAnswer {
				return fmt.Errorf("unsupported kind %q: use question or answer", kind)
			}

			s := loadSettings(v)
			p, err := s.newPipeline(s.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			doc, err := p.ingestion.ReadDocument(cmd.Context(), filepath.Base(args[0]), args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), s.Format, p.detector.Scan(doc, k))
		},
	}
	cmd.Flags().String("kind", string(structure.KindQuestion), "entry kind: question or answer")
	return cmd
}

func newAlignCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "align <question-paper> <mark-scheme>",
		Short: "Align questions with mark scheme answers",
		Long: `Align detects questions in the paper and answers in the mark scheme, then
pairs them by question number. Every number found on either side appears
exactly once as matched, missing_answer, missing_question or duplicate.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v)
			p, err := s.newPipeline(s.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			paper, scheme, err := readPair(cmd, p, args[0], args[1])
			if err != nil {
				return err
			}
			analysis := p.ingestion.AnalyzeExam(paper, scheme)
			return writeOutput(cmd.OutOrStdout(), s.Format, struct {
				Summary alignment.Summary `json:"summary"`
				Pairs   []alignment.Pair  `json:"pairs"`
			}{analysis.Summary, analysis.Pairs})
		},
	}
}

func newChunkCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Split a document into overlapping word chunks",
		Long: `Chunk splits document text into windows of --chunk-size words where
consecutive windows share --chunk-overlap words. With --scheme the file is
treated as a question paper and each aligned question and answer is chunked
on its own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemePath, _ := cmd.Flags().GetString("scheme")

			s := loadSettings(v)
			p, err := s.newPipeline(s.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			var chunks []chunker.Chunk
			if schemePath != "" {
				paper, scheme, err := readPair(cmd, p, args[0], schemePath)
				if err != nil {
					return err
				}
				chunks = p.ingestion.AnalyzeExam(paper, scheme).Chunks
			} else {
				doc, err := p.ingestion.ReadDocument(cmd.Context(), filepath.Base(args[0]), args[0])
				if err != nil {
					return err
				}
				chunks = p.chunker.Chunk(doc.ID, strings.Join(doc.Pages, "\n"))
			}
			if chunks == nil {
				chunks = []chunker.Chunk{}
			}
			return writeOutput(cmd.OutOrStdout(), s.Format, chunks)
		},
	}
	cmd.Flags().String("scheme", "", "mark scheme to align with before chunking")
	return cmd
}

func newGenerateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <file>",
		Short: "Generate flashcards from notes or an exam paper",
		Long: `Generate produces flashcards from a notes document, or from a question
paper and its mark scheme when --scheme is given. Cards are spread over the
requested card types and split into easy, medium and hard by --balance.
Fewer distinct cards than requested is reported as a diagnostic.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemePath, _ := cmd.Flags().GetString("scheme")
			numCards, _ := cmd.Flags().GetInt("num-cards")
			cardTypes, _ := cmd.Flags().GetStringSlice("card-types")
			balance, _ := cmd.Flags().GetString("balance")
			subject, _ := cmd.Flags().GetString("subject")

			params := services.GenerateParams{
				Subject:           subject,
				NumCards:          numCards,
				DifficultyBalance: balance,
			}
			for _, t := range cardTypes {
				params.CardTypes = append(params.CardTypes, flashcards.CardType(strings.TrimSpace(t)))
			}
			if err := params.Validate(); err != nil {
				return err
			}

			s := loadSettings(v)
			p, err := s.newPipeline(s.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			if schemePath != "" {
				paper := &models.Document{OriginalName: filepath.Base(args[0]), StoredPath: args[0], Type: models.DocumentQuestionPaper}
				scheme := &models.Document{OriginalName: filepath.Base(schemePath), StoredPath: schemePath, Type: models.DocumentMarkScheme}
				res, err := p.ingestion.ProcessExamPair(cmd.Context(), paper, scheme, params, nil)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), s.Format, res)
			}

			doc, err := p.ingestion.ReadDocument(cmd.Context(), filepath.Base(args[0]), args[0])
			if err != nil {
				return err
			}
			res, err := p.ingestion.ProcessContent(cmd.Context(), strings.Join(doc.Pages, "\n"), doc.ID, 0, params, nil)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), s.Format, res.Generation)
		},
	}
	cmd.Flags().String("scheme", "", "mark scheme for the question paper in <file>")
	cmd.Flags().IntP("num-cards", "n", 10, "number of flashcards to generate")
	cmd.Flags().StringSlice("card-types", []string{"definition", "cloze", "explanation"},
		"card types: definition, cloze, explanation, multiple_choice")
	cmd.Flags().String("balance", flashcards.DefaultBalance, "difficulty balance: balanced, easy, medium or hard")
	cmd.Flags().String("subject", "", "subject the cards belong to")
	return cmd
}

func readPair(cmd *cobra.Command, p *pipeline, paperPath, schemePath string) (structure.Document, structure.Document, error) {
	paper, err := p.ingestion.ReadDocument(cmd.Context(), filepath.Base(paperPath), paperPath)
	if err != nil {
		return paper, structure.Document{}, err
	}
	scheme, err := p.ingestion.ReadDocument(cmd.Context(), filepath.Base(schemePath), schemePath)
	return paper, scheme, err
}
