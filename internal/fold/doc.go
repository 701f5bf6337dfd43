// Package fold читает и проверяет форматы, которыми pipeline обменивается
// с внешними инструментами.
//
//   - FASTA вход (одна запись)
//   - вывод RNAfold: последовательность, dot-bracket структура и энергия
//   - silent файл ROSETTA: строки SCORE:
//   - вывод ранжирования: строки "<path> <score>"
//
// Сами алгоритмы свёртки здесь не реализуются.
package fold
